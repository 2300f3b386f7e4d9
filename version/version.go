// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package version

var Version = "0.1.0+git"
