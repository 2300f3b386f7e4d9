// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/cobra"

	"github.com/suse-enceladus/azimg/cli"
)

var root = &cobra.Command{
	Use:   "azimg [command]",
	Short: "Azure image storage, compute and marketplace utilities",
}

func main() {
	cli.Execute(root)
}
