// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flatcar/azure-vhd-utils/vhdcore/validator"
	"github.com/spf13/cobra"

	"github.com/suse-enceladus/azimg/azure"
)

var (
	cmdBlob = &cobra.Command{
		Use:   "blob [command]",
		Short: "Image blob utilities",
	}

	cmdBlobExists = &cobra.Command{
		Use:   "exists",
		Short: "Check if a blob exists in the configured container",
		RunE:  runBlobExists,
	}

	cmdBlobUpload = &cobra.Command{
		Use:   "upload",
		Short: "Upload an image file to the configured container",
		RunE:  runBlobUpload,
	}

	cmdBlobDelete = &cobra.Command{
		Use:   "delete",
		Short: "Delete a blob from the configured container",
		RunE:  runBlobDelete,
	}

	// blob options
	bo struct {
		blobName     string
		file         string
		pageBlob     bool
		forceReplace bool
		validate     bool
	}
)

func init() {
	for _, cmd := range []*cobra.Command{cmdBlobExists, cmdBlobUpload, cmdBlobDelete} {
		cmd.Flags().StringVar(&bo.blobName, "blob-name", "", "name of the blob")
	}

	bv := cmdBlobUpload.Flags().BoolVar
	cmdBlobUpload.Flags().StringVar(&bo.file, "file", "", "path to the image file")
	bv(&bo.pageBlob, "page-blob", true, "upload as a page blob (required for VHD images)")
	bv(&bo.forceReplace, "force-replace", false, "replace the blob if it already exists")
	bv(&bo.validate, "validate", true, "validate the image as a VHD file before uploading")

	cmdBlob.AddCommand(cmdBlobExists)
	cmdBlob.AddCommand(cmdBlobUpload)
	cmdBlob.AddCommand(cmdBlobDelete)
	root.AddCommand(cmdBlob)
}

func requireBlobName() error {
	if bo.blobName == "" {
		return &azure.MissingArgumentError{Field: "blob-name"}
	}
	return nil
}

func runBlobExists(cmd *cobra.Command, args []string) error {
	if err := requireBlobName(); err != nil {
		return err
	}
	exists, err := api.BlobExists(cmd.Context(), bo.blobName)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), exists)
	return nil
}

func runBlobUpload(cmd *cobra.Command, args []string) error {
	if bo.file == "" {
		return &azure.MissingArgumentError{Field: "file"}
	}
	if bo.blobName == "" {
		bo.blobName = filepath.Base(bo.file)
	}

	if bo.validate && bo.pageBlob {
		if !strings.HasSuffix(strings.ToLower(bo.blobName), ".vhd") {
			return fmt.Errorf("blob name %q should end with .vhd", bo.blobName)
		}
		if err := validator.ValidateVhd(bo.file); err != nil {
			return err
		}
		if err := validator.ValidateVhdSize(bo.file); err != nil {
			return err
		}
	}

	err := api.UploadBlob(cmd.Context(), bo.file, bo.blobName, azure.UploadBlobOptions{
		PageBlob:     bo.pageBlob,
		ForceReplace: bo.forceReplace,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), bo.blobName)
	return nil
}

func runBlobDelete(cmd *cobra.Command, args []string) error {
	if err := requireBlobName(); err != nil {
		return err
	}
	deleted, err := api.DeleteBlob(cmd.Context(), bo.blobName)
	if err != nil {
		return err
	}
	if !deleted {
		plog.Infof("Blob %s not found, nothing has been deleted", bo.blobName)
	}
	return nil
}
