// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

// Package partner talks to the Azure Cloud Partner (marketplace) API:
// offer documents, publish and go-live flows, and their long-running
// operations. The offer document itself is treated as an opaque
// structured document.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/pkg/capnslog"

	"github.com/suse-enceladus/azimg/operation"
	"github.com/suse-enceladus/azimg/request"
)

var plog = capnslog.NewPackageLogger("github.com/suse-enceladus/azimg", "partner")

const (
	DefaultEndpoint = "https://cloudpartner.azure.com"
	apiVersion      = "2017-10-31"
)

// TokenSource produces bearer tokens for the partner API. Invalidate
// is called by the executor on a 401 before its single
// re-authentication retry.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client is a Cloud Partner API client. All calls run through its
// Executor.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
	Tokens     TokenSource
	Executor   *request.Executor
}

// NewClient returns a Client against the public partner endpoint.
func NewClient(tokens TokenSource) *Client {
	return &Client{
		Endpoint:   DefaultEndpoint,
		HTTPClient: http.DefaultClient,
		Tokens:     tokens,
		Executor:   &request.Executor{Authorizer: tokens},
	}
}

func (c *Client) offerPath(publisherID, offerID, method string) string {
	return fmt.Sprintf("/api/publishers/%s/offers/%s%s?api-version=%s",
		publisherID, offerID, method, apiVersion)
}

// roundTrip performs exactly one HTTP attempt. Responses other than
// 200 and 202 become StatusErrors carrying the response body.
func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, hdr http.Header) ([]byte, http.Header, error) {
	token, err := c.Tokens.Token(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquiring partner API token: %w", err)
	}

	url := path
	if strings.HasPrefix(path, "/") {
		url = c.Endpoint + path
	}
	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, nil, request.NewStatusError(resp)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return respBody, resp.Header, nil
}

// do runs one logical call through the executor.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, hdr http.Header) ([]byte, http.Header, error) {
	var (
		respBody []byte
		respHdr  http.Header
	)
	err := c.Executor.Do(ctx, func(ctx context.Context) error {
		var attemptErr error
		respBody, respHdr, attemptErr = c.roundTrip(ctx, method, path, payload, hdr)
		return attemptErr
	})
	return respBody, respHdr, err
}

// GetOfferDoc fetches the offer document for the publisher and offer.
func (c *Client) GetOfferDoc(ctx context.Context, publisherID, offerID string) (map[string]any, error) {
	body, _, err := c.do(ctx, http.MethodGet, c.offerPath(publisherID, offerID, ""), nil, nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding offer doc: %w", err)
	}
	return doc, nil
}

// PutOfferDoc uploads an updated offer document.
func (c *Client) PutOfferDoc(ctx context.Context, publisherID, offerID string, doc map[string]any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding offer doc: %w", err)
	}
	hdr := http.Header{"If-Match": []string{"*"}}
	_, _, err = c.do(ctx, http.MethodPut, c.offerPath(publisherID, offerID, ""), payload, hdr)
	return err
}

// Publish starts publication of the offer and returns the operation
// handle from the Location header.
func (c *Client) Publish(ctx context.Context, publisherID, offerID, notificationEmails string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"notification-emails": notificationEmails,
		},
	})
	if err != nil {
		return "", err
	}
	_, hdr, err := c.do(ctx, http.MethodPost, c.offerPath(publisherID, offerID, "/publish"), payload, nil)
	if err != nil {
		return "", err
	}
	return operationHandle(hdr)
}

// GoLive moves a reviewed offer live and returns the operation handle
// from the Location header.
func (c *Client) GoLive(ctx context.Context, publisherID, offerID string) (string, error) {
	_, hdr, err := c.do(ctx, http.MethodPost, c.offerPath(publisherID, offerID, "/golive"), nil, nil)
	if err != nil {
		return "", err
	}
	return operationHandle(hdr)
}

func operationHandle(hdr http.Header) (string, error) {
	loc := hdr.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("partner API response carries no operation Location header")
	}
	return loc, nil
}

// OfferStatus returns the offer's publishing status. While the offer
// is publishing and the publisher-signoff step waits for review, the
// step status is reported instead, since that is what the publisher
// needs to act on.
func (c *Client) OfferStatus(ctx context.Context, publisherID, offerID string) (string, error) {
	body, _, err := c.do(ctx, http.MethodGet, c.offerPath(publisherID, offerID, "/status"), nil, nil)
	if err != nil {
		return "", err
	}

	var status struct {
		Status string `json:"status"`
		Steps  []struct {
			StepName string `json:"stepName"`
			Status   string `json:"status"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return "", fmt.Errorf("decoding offer status: %w", err)
	}
	if status.Status == "" {
		return "unknown", nil
	}
	if status.Status == "running" {
		for _, step := range status.Steps {
			if step.StepName == "publisher-signoff" && step.Status == "waitingForPublisherReview" {
				return "waitingForPublisherReview", nil
			}
		}
	}
	return status.Status, nil
}

// ProbeOperation returns an operation probe for the handle obtained
// from Publish or GoLive. The probe makes a single attempt; the waiter
// wraps it in the client's executor.
func (c *Client) ProbeOperation(handle string) operation.Probe {
	return func(ctx context.Context) (operation.Status, json.RawMessage, error) {
		body, _, err := c.roundTrip(ctx, http.MethodGet, handle, nil, nil)
		if err != nil {
			return "", nil, err
		}
		var op struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &op); err != nil {
			return "", nil, fmt.Errorf("decoding operation status: %w", err)
		}
		status, err := mapOperationStatus(op.Status)
		if err != nil {
			return "", nil, err
		}
		return status, body, nil
	}
}

func mapOperationStatus(s string) (operation.Status, error) {
	switch strings.ToLower(s) {
	case "notstarted":
		return operation.StatusPending, nil
	case "running", "inprogress":
		return operation.StatusInProgress, nil
	case "succeeded", "completed":
		return operation.StatusSucceeded, nil
	case "failed":
		return operation.StatusFailed, nil
	case "canceled", "cancelled":
		return operation.StatusCanceled, nil
	}
	return "", fmt.Errorf("unknown partner operation status %q", s)
}
