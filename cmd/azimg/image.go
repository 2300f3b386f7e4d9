// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suse-enceladus/azimg/azure"
)

var (
	cmdImage = &cobra.Command{
		Use:   "image [command]",
		Short: "Managed compute image utilities",
	}

	cmdImageExists = &cobra.Command{
		Use:   "exists",
		Short: "Check if a managed image exists",
		RunE:  runImageExists,
	}

	cmdImageCreate = &cobra.Command{
		Use:   "create",
		Short: "Create a managed image from an uploaded blob",
		RunE:  runImageCreate,
	}

	cmdImageDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a managed image",
		RunE:  runImageDelete,
	}

	// image options
	imo struct {
		imageName    string
		blobName     string
		forceReplace bool
	}
)

func init() {
	for _, cmd := range []*cobra.Command{cmdImageExists, cmdImageCreate, cmdImageDelete} {
		cmd.Flags().StringVar(&imo.imageName, "image-name", "", "image name")
	}
	cmdImageCreate.Flags().StringVar(&imo.blobName, "blob-name", "", "name of the uploaded image blob")
	cmdImageCreate.Flags().BoolVar(&imo.forceReplace, "force-replace", false,
		"delete and re-create the image if it already exists")

	cmdImage.AddCommand(cmdImageExists)
	cmdImage.AddCommand(cmdImageCreate)
	cmdImage.AddCommand(cmdImageDelete)
	root.AddCommand(cmdImage)
}

func requireImageName() error {
	if imo.imageName == "" {
		return &azure.MissingArgumentError{Field: "image-name"}
	}
	return nil
}

func runImageExists(cmd *cobra.Command, args []string) error {
	if err := requireImageName(); err != nil {
		return err
	}
	exists, err := api.ImageExists(cmd.Context(), imo.imageName)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exists)
	return nil
}

func runImageCreate(cmd *cobra.Command, args []string) error {
	if err := requireImageName(); err != nil {
		return err
	}
	if imo.blobName == "" {
		return &azure.MissingArgumentError{Field: "blob-name"}
	}

	blobURI, err := api.BlobURL(cmd.Context(), imo.blobName)
	if err != nil {
		return err
	}
	img, err := api.CreateImage(cmd.Context(), imo.imageName, blobURI, imo.forceReplace)
	if err != nil {
		return err
	}

	return json.NewEncoder(cmd.OutOrStdout()).Encode(&struct {
		ID       *string
		Location *string
	}{
		ID:       img.ID,
		Location: img.Location,
	})
}

func runImageDelete(cmd *cobra.Command, args []string) error {
	if err := requireImageName(); err != nil {
		return err
	}
	return api.DeleteImage(cmd.Context(), imo.imageName)
}
