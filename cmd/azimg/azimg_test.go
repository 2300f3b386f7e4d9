// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestApplyProfile(t *testing.T) {
	saved := gopts
	defer func() { gopts = saved }()

	gopts.profile = writeProfile(t, `
credentials_file: /etc/azimg/credentials.json
resource_group: images-rg
storage_account: imagesacct
container: vhds
region: westeurope
max_workers: 16
chunk_size: 8388608
`)
	require.NoError(t, applyProfile(root.PersistentFlags()))

	assert.Equal(t, "/etc/azimg/credentials.json", gopts.credentialsFile)
	assert.Equal(t, "images-rg", gopts.resourceGroup)
	assert.Equal(t, "imagesacct", gopts.storageAccount)
	assert.Equal(t, "vhds", gopts.container)
	assert.Equal(t, "westeurope", gopts.region)
	assert.Equal(t, 16, gopts.maxWorkers)
	assert.Equal(t, int64(8388608), gopts.chunkSize)
	// unset profile keys leave the option alone
	assert.Empty(t, gopts.sasToken)
	assert.Zero(t, gopts.maxAttempts)
}

func TestApplyProfileFlagsWin(t *testing.T) {
	defer func(region string, workers int) {
		gopts.region = region
		gopts.maxWorkers = workers
		root.PersistentFlags().Lookup("region").Changed = false
		root.PersistentFlags().Lookup("max-workers").Changed = false
	}(gopts.region, gopts.maxWorkers)

	gopts.profile = writeProfile(t, `
region: westeurope
max_workers: 16
`)
	require.NoError(t, root.PersistentFlags().Set("region", "eastus"))
	require.NoError(t, root.PersistentFlags().Set("max-workers", "4"))
	require.NoError(t, applyProfile(root.PersistentFlags()))

	assert.Equal(t, "eastus", gopts.region)
	assert.Equal(t, 4, gopts.maxWorkers)
}

func TestApplyProfileMalformed(t *testing.T) {
	defer func(p string) { gopts.profile = p }(gopts.profile)

	gopts.profile = writeProfile(t, "{not yaml")
	assert.Error(t, applyProfile(root.PersistentFlags()))
}

func TestApplyProfileNoProfile(t *testing.T) {
	defer func(p string) { gopts.profile = p }(gopts.profile)

	gopts.profile = ""
	assert.NoError(t, applyProfile(root.PersistentFlags()))
}
