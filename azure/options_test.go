// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/suse-enceladus/azimg/request"
	"github.com/suse-enceladus/azimg/upload"
)

func TestSetDefaults(t *testing.T) {
	var o Options
	o.SetDefaults()
	if o.HyperVGeneration != "V1" {
		t.Errorf("got generation %q, want V1", o.HyperVGeneration)
	}
	if o.MaxAttempts != request.DefaultMaxAttempts {
		t.Errorf("got max attempts %d", o.MaxAttempts)
	}
	if o.ChunkSize != upload.DefaultChunkSize {
		t.Errorf("got chunk size %d", o.ChunkSize)
	}
	if o.PollInterval != 10*time.Second || o.Timeout != 30*time.Minute {
		t.Errorf("got poll %v timeout %v", o.PollInterval, o.Timeout)
	}

	// explicit values survive
	o = Options{HyperVGeneration: "V2", MaxAttempts: 2, ChunkSize: 512}
	o.SetDefaults()
	if o.HyperVGeneration != "V2" || o.MaxAttempts != 2 || o.ChunkSize != 512 {
		t.Errorf("defaults overwrote explicit values: %+v", o)
	}
}

func TestRequire(t *testing.T) {
	o := Options{ResourceGroup: "rg"}
	if err := o.require("resource_group", o.ResourceGroup); err != nil {
		t.Errorf("require: %v", err)
	}

	err := o.require("resource_group", o.ResourceGroup, "region", o.Region)
	var ma *MissingArgumentError
	if !errors.As(err, &ma) {
		t.Fatalf("got %v, want *MissingArgumentError", err)
	}
	if ma.Field != "region" {
		t.Errorf("error names %q, want region", ma.Field)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttled", &azcore.ResponseError{StatusCode: 429}, true},
		{"server error", &azcore.ResponseError{StatusCode: 500}, true},
		{"conflict", &azcore.ResponseError{StatusCode: 409}, false},
		{"not found", &azcore.ResponseError{StatusCode: 404}, false},
		{"plain status 503", &request.StatusError{StatusCode: 503}, true},
		{"truncated read", io.ErrUnexpectedEOF, true},
		{"validation", errors.New("invalid parameter"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !isNotFound(&azcore.ResponseError{StatusCode: 404}) {
		t.Error("404 response error not recognized")
	}
	if isNotFound(&azcore.ResponseError{StatusCode: 500}) {
		t.Error("500 treated as not found")
	}
	if isNotFound(errors.New("nope")) {
		t.Error("plain error treated as not found")
	}
}
