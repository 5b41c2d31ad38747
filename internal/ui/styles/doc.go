// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling for the sessionguard portal.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection.

# Colors

  - Cyan - Brand color, info notices, active route
  - Emerald - Success notices and the tracking state
  - Amber - Warning notices and the warning state
  - Rose - Error notices and the expired state

# Indicators

Every colored state is paired with an ASCII indicator from StatusIndicators
so the meaning survives monochrome terminals.
*/
package styles
