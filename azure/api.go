// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package azure glues the resilient core (request executor, chunked
// uploader, operation waiter) to the Azure management and storage
// SDKs: compute images, gallery image versions and storage blobs.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/coreos/pkg/capnslog"

	"github.com/suse-enceladus/azimg/auth"
	"github.com/suse-enceladus/azimg/request"
)

var plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "azure")

// API bundles the management and storage clients for one credential
// source.
type API struct {
	source   *auth.Source
	opts     *Options
	executor *request.Executor

	imgClient  *armcompute.ImagesClient
	galClient  *armcompute.GalleryImageVersionsClient
	accClient  *armstorage.AccountsClient
	blobClient *service.Client
}

// New builds an API from a resolved credential source. SetupClients
// must be called before any management operation; a SAS-only source
// supports storage operations only.
func New(source *auth.Source, opts *Options) (*API, error) {
	if source == nil {
		return nil, errors.New("azure: nil credential source")
	}
	if opts == nil {
		opts = &Options{}
	}
	opts.SetDefaults()

	return &API{
		source: source,
		opts:   opts,
		executor: &request.Executor{
			Policy: request.Policy{
				MaxAttempts: opts.MaxAttempts,
				Retryable:   retryable,
			},
		},
	}, nil
}

// GetOpts returns the options the API was built with.
func (a *API) GetOpts() *Options {
	return a.opts
}

// Executor returns the request executor shared by the API's
// operations.
func (a *API) Executor() *request.Executor {
	return a.executor
}

// SetupClients creates the management-plane clients. It is a no-op for
// a SAS-only source.
func (a *API) SetupClients() error {
	if !a.source.HasServicePrincipal() {
		return nil
	}
	cred := a.source.TokenCredential()
	subid := a.source.SubscriptionID()

	var err error
	a.imgClient, err = armcompute.NewImagesClient(subid, cred, nil)
	if err != nil {
		return fmt.Errorf("creating images client: %w", err)
	}
	a.galClient, err = armcompute.NewGalleryImageVersionsClient(subid, cred, nil)
	if err != nil {
		return fmt.Errorf("creating gallery image versions client: %w", err)
	}
	a.accClient, err = armstorage.NewAccountsClient(subid, cred, nil)
	if err != nil {
		return fmt.Errorf("creating storage accounts client: %w", err)
	}
	return nil
}

func (a *API) managementReady() error {
	if a.imgClient == nil {
		return errors.New("azure: management clients are not set up; service principal credentials are required")
	}
	return nil
}

// BlobServiceClient returns a client for the configured storage
// account, authenticated with the SAS token when one was supplied and
// otherwise with the account's first access key.
func (a *API) BlobServiceClient(ctx context.Context) (*service.Client, error) {
	if a.blobClient != nil {
		return a.blobClient, nil
	}
	if err := a.opts.require("storage_account", a.opts.StorageAccount); err != nil {
		return nil, err
	}
	accountURL := fmt.Sprintf("https://%s.blob.core.windows.net/", a.opts.StorageAccount)

	if sas := a.source.SAS(); sas != "" {
		client, err := service.NewClientWithNoCredential(accountURL+"?"+strings.TrimPrefix(sas, "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("creating blob service client: %w", err)
		}
		a.blobClient = client
		return client, nil
	}

	if err := a.opts.require("resource_group", a.opts.ResourceGroup); err != nil {
		return nil, err
	}
	if a.accClient == nil {
		return nil, errors.New("azure: storage access needs a SAS token or service principal credentials")
	}

	var key string
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		resp, err := a.accClient.ListKeys(ctx, a.opts.ResourceGroup, a.opts.StorageAccount, nil)
		if err != nil {
			return err
		}
		for _, k := range resp.Keys {
			if k.Value != nil {
				key = *k.Value
				return nil
			}
		}
		return fmt.Errorf("storage account %q has no usable access keys", a.opts.StorageAccount)
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys for storage account %q: %w", a.opts.StorageAccount, err)
	}

	sharedKey, err := service.NewSharedKeyCredential(a.opts.StorageAccount, key)
	if err != nil {
		return nil, fmt.Errorf("creating shared key credential: %w", err)
	}
	client, err := service.NewClientWithSharedKeyCredential(accountURL, sharedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob service client: %w", err)
	}
	a.blobClient = client
	return client, nil
}

// retryable extends the default transient classification with the
// ARM SDK's response errors.
func retryable(err error) bool {
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		switch {
		case re.StatusCode == http.StatusTooManyRequests:
			return true
		case re.StatusCode == http.StatusRequestTimeout:
			return true
		case re.StatusCode >= 500:
			return true
		}
		return false
	}
	return request.DefaultRetryable(err)
}

func isNotFound(err error) bool {
	var re *azcore.ResponseError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
