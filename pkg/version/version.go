// SPDX-FileCopyrightText: Copyright The btrfsmig Authors
// SPDX-License-Identifier: Apache-2.0

package version

// Version is filled on compilation time.
var Version = "<unknown>"
