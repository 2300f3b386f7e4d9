// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/suse-enceladus/azimg/azure"
	"github.com/suse-enceladus/azimg/operation"
	"github.com/suse-enceladus/azimg/partner"
)

var (
	cmdOffer = &cobra.Command{
		Use:   "cloud-partner-offer [command]",
		Short: "Cloud partner (marketplace) offer utilities",
	}

	cmdOfferGet = &cobra.Command{
		Use:   "get",
		Short: "Fetch the offer document",
		RunE:  runOfferGet,
	}

	cmdOfferUploadDoc = &cobra.Command{
		Use:   "upload-doc",
		Short: "Upload an offer document",
		RunE:  runOfferUploadDoc,
	}

	cmdOfferPublish = &cobra.Command{
		Use:   "publish",
		Short: "Publish the offer",
		RunE:  runOfferPublish,
	}

	cmdOfferGoLive = &cobra.Command{
		Use:   "go-live",
		Short: "Move a reviewed offer live",
		RunE:  runOfferGoLive,
	}

	cmdOfferStatus = &cobra.Command{
		Use:   "status",
		Short: "Print the offer's publishing status",
		RunE:  runOfferStatus,
	}

	cmdOfferAddImage = &cobra.Command{
		Use:   "add-image",
		Short: "Add an uploaded image as a new version of the offer's SKU",
		RunE:  runOfferAddImage,
	}

	cmdOfferRemoveImage = &cobra.Command{
		Use:   "remove-image",
		Short: "Remove an image version from the offer",
		RunE:  runOfferRemoveImage,
	}

	cmdOfferDeprecateImage = &cobra.Command{
		Use:   "deprecate-image",
		Short: "Hide an image version from the marketplace GUI",
		RunE:  runOfferDeprecateImage,
	}

	// offer options
	oo struct {
		publisherID        string
		offerID            string
		docFile            string
		notificationEmails string
		wait               bool

		imageName        string
		imageVersion     string
		label            string
		description      string
		sku              string
		generationID     string
		generationSuffix string
		vmImagesKey      string
		blobName         string
	}
)

func init() {
	subcommands := []*cobra.Command{
		cmdOfferGet, cmdOfferUploadDoc, cmdOfferPublish, cmdOfferGoLive,
		cmdOfferStatus, cmdOfferAddImage, cmdOfferRemoveImage, cmdOfferDeprecateImage,
	}
	for _, cmd := range subcommands {
		sv := cmd.Flags().StringVar
		sv(&oo.publisherID, "publisher-id", "", "publisher id")
		sv(&oo.offerID, "offer-id", "", "offer id")
		cmdOffer.AddCommand(cmd)
	}

	cmdOfferGet.Flags().StringVar(&oo.docFile, "doc-file", "", "write the document to this file instead of stdout")
	cmdOfferUploadDoc.Flags().StringVar(&oo.docFile, "doc-file", "", "JSON file with the offer document")
	cmdOfferPublish.Flags().StringVar(&oo.notificationEmails, "notification-emails", "",
		"comma separated list of emails notified about publish progress")
	cmdOfferPublish.Flags().BoolVar(&oo.wait, "wait", false, "wait for the operation to finish")
	cmdOfferGoLive.Flags().BoolVar(&oo.wait, "wait", false, "wait for the operation to finish")

	sv := cmdOfferAddImage.Flags().StringVar
	sv(&oo.imageName, "image-name", "", "image (media) name of the new version")
	sv(&oo.label, "label", "", "version label")
	sv(&oo.description, "description", "", "version description")
	sv(&oo.sku, "sku", "", "plan id the version is added to")
	sv(&oo.generationID, "generation-id", "", "disk generation plan id to also publish under")
	sv(&oo.generationSuffix, "generation-suffix", "", "media name suffix for the disk generation")
	sv(&oo.vmImagesKey, "vm-images-key", "", "offer doc key holding the VM images")
	sv(&oo.blobName, "blob-name", "", "name of the uploaded image blob (defaults to image name)")

	cmdOfferRemoveImage.Flags().StringVar(&oo.imageVersion, "image-version", "",
		"version key to remove, e.g. 2024.05.02")
	cmdOfferRemoveImage.Flags().StringVar(&oo.sku, "sku", "", "plan id the version is removed from")
	cmdOfferRemoveImage.Flags().StringVar(&oo.vmImagesKey, "vm-images-key", "", "offer doc key holding the VM images")

	cmdOfferDeprecateImage.Flags().StringVar(&oo.imageName, "image-name", "", "image (media) name to deprecate")
	cmdOfferDeprecateImage.Flags().StringVar(&oo.sku, "sku", "", "plan id holding the image")
	cmdOfferDeprecateImage.Flags().StringVar(&oo.vmImagesKey, "vm-images-key", "", "offer doc key holding the VM images")

	root.AddCommand(cmdOffer)
}

func requireOffer() error {
	if oo.publisherID == "" {
		return &azure.MissingArgumentError{Field: "publisher-id"}
	}
	if oo.offerID == "" {
		return &azure.MissingArgumentError{Field: "offer-id"}
	}
	return nil
}

func runOfferGet(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	doc, err := client.GetOfferDoc(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if oo.docFile != "" {
		f, err := os.Create(oo.docFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func runOfferUploadDoc(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	if oo.docFile == "" {
		return &azure.MissingArgumentError{Field: "doc-file"}
	}
	doc, err := readOfferDoc(oo.docFile)
	if err != nil {
		return err
	}

	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	return client.PutOfferDoc(cmd.Context(), oo.publisherID, oo.offerID, doc)
}

func runOfferPublish(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	if oo.notificationEmails == "" {
		return &azure.MissingArgumentError{Field: "notification-emails"}
	}
	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	handle, err := client.Publish(cmd.Context(), oo.publisherID, oo.offerID, oo.notificationEmails)
	if err != nil {
		return err
	}
	return finishOfferOperation(cmd, client, operation.OfferPublish, handle)
}

func runOfferGoLive(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	handle, err := client.GoLive(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}
	return finishOfferOperation(cmd, client, operation.OfferGoLive, handle)
}

func finishOfferOperation(cmd *cobra.Command, client *partner.Client, kind operation.Kind, handle string) error {
	if !oo.wait {
		fmt.Fprintln(cmd.OutOrStdout(), handle)
		return nil
	}
	opts := api.GetOpts()
	waiter := &operation.Waiter{
		Handle:   handle,
		Kind:     kind,
		Interval: opts.PollInterval,
		Timeout:  opts.Timeout,
		Executor: client.Executor,
		Probe:    client.ProbeOperation(handle),
	}
	if _, err := waiter.Wait(cmd.Context()); err != nil {
		return err
	}
	plog.Infof("%s finished for offer %s", kind, oo.offerID)
	return nil
}

func runOfferStatus(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	status, err := client.OfferStatus(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), status)
	return nil
}

func runOfferAddImage(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	for _, req := range []struct{ flag, value string }{
		{"image-name", oo.imageName},
		{"label", oo.label},
		{"description", oo.description},
		{"sku", oo.sku},
	} {
		if req.value == "" {
			return &azure.MissingArgumentError{Field: req.flag}
		}
	}
	blobName := oo.blobName
	if blobName == "" {
		blobName = oo.imageName
	}

	// The marketplace ingests the image through a signed blob URL.
	blobURL, err := api.SignBlob(cmd.Context(), blobName, 24*7*time.Hour)
	if err != nil {
		return err
	}

	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	doc, err := client.GetOfferDoc(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}
	err = partner.AddImageVersion(doc, partner.ImageVersion{
		SKU:              oo.sku,
		BlobURL:          blobURL,
		Description:      oo.description,
		ImageName:        oo.imageName,
		Label:            oo.label,
		GenerationID:     oo.generationID,
		GenerationSuffix: oo.generationSuffix,
		VMImagesKey:      oo.vmImagesKey,
	})
	if err != nil {
		return err
	}
	return client.PutOfferDoc(cmd.Context(), oo.publisherID, oo.offerID, doc)
}

func runOfferRemoveImage(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	if oo.imageVersion == "" {
		return &azure.MissingArgumentError{Field: "image-version"}
	}
	if oo.sku == "" {
		return &azure.MissingArgumentError{Field: "sku"}
	}

	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	doc, err := client.GetOfferDoc(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}
	if err := partner.RemoveImageVersion(doc, oo.imageVersion, oo.sku, oo.vmImagesKey); err != nil {
		return err
	}
	return client.PutOfferDoc(cmd.Context(), oo.publisherID, oo.offerID, doc)
}

func runOfferDeprecateImage(cmd *cobra.Command, args []string) error {
	if err := requireOffer(); err != nil {
		return err
	}
	if oo.imageName == "" {
		return &azure.MissingArgumentError{Field: "image-name"}
	}
	if oo.sku == "" {
		return &azure.MissingArgumentError{Field: "sku"}
	}

	client, err := newPartnerClient()
	if err != nil {
		return err
	}
	doc, err := client.GetOfferDoc(cmd.Context(), oo.publisherID, oo.offerID)
	if err != nil {
		return err
	}
	if err := partner.DeprecateImage(doc, oo.imageName, oo.sku, oo.vmImagesKey); err != nil {
		return err
	}
	return client.PutOfferDoc(cmd.Context(), oo.publisherID, oo.offerID, doc)
}

func readOfferDoc(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing offer doc %q: %w", path, err)
	}
	return doc, nil
}
