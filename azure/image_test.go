// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"testing"

	"github.com/suse-enceladus/azimg/operation"
)

func TestProvisioningStatus(t *testing.T) {
	tests := []struct {
		state string
		want  operation.Status
	}{
		{"Succeeded", operation.StatusSucceeded},
		{"Failed", operation.StatusFailed},
		{"Canceled", operation.StatusCanceled},
		{"", operation.StatusPending},
		{"Creating", operation.StatusInProgress},
		{"Updating", operation.StatusInProgress},
		{"Deleting", operation.StatusInProgress},
	}
	for _, tt := range tests {
		if got := provisioningStatus(tt.state); got != tt.want {
			t.Errorf("provisioningStatus(%q) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestAllZero(t *testing.T) {
	if !allZero(make([]byte, 4096)) {
		t.Error("zero page reported as data")
	}
	data := make([]byte, 4096)
	data[4095] = 1
	if allZero(data) {
		t.Error("trailing data byte missed")
	}
	if !allZero(nil) {
		t.Error("empty slice must count as zero")
	}
}
