// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/coreos/pkg/capnslog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/suse-enceladus/azimg/auth"
	"github.com/suse-enceladus/azimg/azure"
	"github.com/suse-enceladus/azimg/cli"
	"github.com/suse-enceladus/azimg/partner"
)

var (
	plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "cmd/azimg")

	// global options, seeded from the profile file and overridden by
	// flags
	gopts struct {
		profile          string
		credentialsFile  string
		sasToken         string
		resourceGroup    string
		storageAccount   string
		container        string
		region           string
		hyperVGeneration string
		maxWorkers       int
		maxAttempts      int
		chunkSize        int64
		pollInterval     int
		timeout          int
	}

	api    *azure.API
	source *auth.Source
)

// profileConfig is the optional YAML defaults file; flags win over it.
type profileConfig struct {
	CredentialsFile  string `yaml:"credentials_file"`
	SASToken         string `yaml:"sas_token"`
	ResourceGroup    string `yaml:"resource_group"`
	StorageAccount   string `yaml:"storage_account"`
	Container        string `yaml:"container"`
	Region           string `yaml:"region"`
	HyperVGeneration string `yaml:"hyper_v_generation"`
	MaxWorkers       int    `yaml:"max_workers"`
	MaxAttempts      int    `yaml:"max_attempts"`
	ChunkSize        int64  `yaml:"chunk_size"`
	PollInterval     int    `yaml:"poll_interval"`
	Timeout          int    `yaml:"timeout"`
}

func init() {
	sv := root.PersistentFlags().StringVar
	iv := root.PersistentFlags().IntVar

	sv(&gopts.profile, "profile", "", "path to a YAML profile with default options")
	sv(&gopts.credentialsFile, "credentials-file", "", "path to the service account credentials JSON file")
	sv(&gopts.sasToken, "sas-token", "", "storage SAS token (storage operations only)")
	sv(&gopts.resourceGroup, "resource-group", "", "resource group name")
	sv(&gopts.storageAccount, "storage-account", "", "storage account name")
	sv(&gopts.container, "container", "", "storage container name")
	sv(&gopts.region, "region", "", "Azure region, e.g. westus")
	sv(&gopts.hyperVGeneration, "hyper-v-generation", "", "image Hyper-V generation, V1 or V2")
	iv(&gopts.maxWorkers, "max-workers", 0, "max concurrent chunk uploads (0 = automatic)")
	iv(&gopts.maxAttempts, "max-attempts", 0, "retry budget for remote calls (0 = default)")
	root.PersistentFlags().Int64Var(&gopts.chunkSize, "chunk-size", 0, "upload chunk size in bytes (0 = default)")
	iv(&gopts.pollInterval, "poll-interval", 0, "seconds between operation status probes (0 = default)")
	iv(&gopts.timeout, "timeout", 0, "seconds to wait for an operation before giving up (0 = default)")

	cli.WrapPreRun(root, preauth)
}

func preauth(cmd *cobra.Command, args []string) error {
	// The version command needs no credentials.
	if cmd.Name() == "version" {
		return nil
	}

	if err := applyProfile(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	var err error
	switch {
	case gopts.credentialsFile != "":
		source, err = auth.File(gopts.credentialsFile)
	case gopts.sasToken != "":
		source = auth.SASToken(gopts.sasToken)
	default:
		err = fmt.Errorf("either --credentials-file or --sas-token is required")
	}
	if err != nil {
		return err
	}

	opts := &azure.Options{
		ResourceGroup:    gopts.resourceGroup,
		StorageAccount:   gopts.storageAccount,
		Container:        gopts.container,
		Region:           gopts.region,
		HyperVGeneration: gopts.hyperVGeneration,
		MaxWorkers:       gopts.maxWorkers,
		MaxAttempts:      gopts.maxAttempts,
		ChunkSize:        gopts.chunkSize,
		PollInterval:     time.Duration(gopts.pollInterval) * time.Second,
		Timeout:          time.Duration(gopts.timeout) * time.Second,
	}
	api, err = azure.New(source, opts)
	if err != nil {
		return err
	}
	if err := api.SetupClients(); err != nil {
		return fmt.Errorf("setting up clients: %w", err)
	}
	return nil
}

// applyProfile fills options the user did not pass as flags from the
// profile file, when one was given.
func applyProfile(flags *pflag.FlagSet) error {
	if gopts.profile == "" {
		return nil
	}
	data, err := os.ReadFile(gopts.profile)
	if err != nil {
		return fmt.Errorf("reading profile: %w", err)
	}
	var p profileConfig
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("parsing profile %q: %w", gopts.profile, err)
	}

	setString := func(flag string, dst *string, val string) {
		if !flags.Changed(flag) && val != "" {
			*dst = val
		}
	}
	setInt := func(flag string, dst *int, val int) {
		if !flags.Changed(flag) && val != 0 {
			*dst = val
		}
	}

	setString("credentials-file", &gopts.credentialsFile, p.CredentialsFile)
	setString("sas-token", &gopts.sasToken, p.SASToken)
	setString("resource-group", &gopts.resourceGroup, p.ResourceGroup)
	setString("storage-account", &gopts.storageAccount, p.StorageAccount)
	setString("container", &gopts.container, p.Container)
	setString("region", &gopts.region, p.Region)
	setString("hyper-v-generation", &gopts.hyperVGeneration, p.HyperVGeneration)
	setInt("max-workers", &gopts.maxWorkers, p.MaxWorkers)
	setInt("max-attempts", &gopts.maxAttempts, p.MaxAttempts)
	if !flags.Changed("chunk-size") && p.ChunkSize != 0 {
		gopts.chunkSize = p.ChunkSize
	}
	setInt("poll-interval", &gopts.pollInterval, p.PollInterval)
	setInt("timeout", &gopts.timeout, p.Timeout)
	return nil
}

// newPartnerClient builds a Cloud Partner API client for offer
// commands. It needs service principal credentials.
func newPartnerClient() (*partner.Client, error) {
	tokens, err := auth.NewTokenSource(source, auth.PartnerScope)
	if err != nil {
		return nil, err
	}
	return partner.NewClient(tokens), nil
}
