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
	cmdGallery = &cobra.Command{
		Use:   "gallery-image-version [command]",
		Short: "Compute gallery image version utilities",
	}

	cmdGalleryExists = &cobra.Command{
		Use:   "exists",
		Short: "Check if a gallery image version exists",
		RunE:  runGalleryExists,
	}

	cmdGalleryCreate = &cobra.Command{
		Use:   "create",
		Short: "Create a gallery image version from an uploaded blob",
		RunE:  runGalleryCreate,
	}

	cmdGalleryDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a gallery image version",
		RunE:  runGalleryDelete,
	}

	// gallery options
	gvo struct {
		gallery       string
		imageName     string
		version       string
		resourceGroup string
		blobName      string
	}
)

func init() {
	for _, cmd := range []*cobra.Command{cmdGalleryExists, cmdGalleryCreate, cmdGalleryDelete} {
		sv := cmd.Flags().StringVar
		sv(&gvo.gallery, "gallery-name", "", "compute gallery name")
		sv(&gvo.imageName, "gallery-image-name", "", "gallery image definition name")
		sv(&gvo.version, "gallery-image-version", "", "gallery image version, e.g. 1.2.0")
		sv(&gvo.resourceGroup, "gallery-resource-group", "",
			"resource group of the gallery (defaults to --resource-group)")
	}
	cmdGalleryCreate.Flags().StringVar(&gvo.blobName, "blob-name", "", "name of the uploaded image blob")

	cmdGallery.AddCommand(cmdGalleryExists)
	cmdGallery.AddCommand(cmdGalleryCreate)
	cmdGallery.AddCommand(cmdGalleryDelete)
	root.AddCommand(cmdGallery)
}

func gallerySpec() azure.GalleryImageVersionSpec {
	return azure.GalleryImageVersionSpec{
		Gallery:       gvo.gallery,
		ImageName:     gvo.imageName,
		Version:       gvo.version,
		ResourceGroup: gvo.resourceGroup,
	}
}

func runGalleryExists(cmd *cobra.Command, args []string) error {
	exists, err := api.GalleryImageVersionExists(cmd.Context(), gallerySpec())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exists)
	return nil
}

func runGalleryCreate(cmd *cobra.Command, args []string) error {
	version, err := api.CreateGalleryImageVersion(cmd.Context(), gallerySpec(), gvo.blobName)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(&struct {
		ID       *string
		Location *string
	}{
		ID:       version.ID,
		Location: version.Location,
	})
}

func runGalleryDelete(cmd *cobra.Command, args []string) error {
	return api.DeleteGalleryImageVersion(cmd.Context(), gallerySpec())
}
