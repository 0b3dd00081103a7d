package relay

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"trustline/internal/domain"
)

// HTTPClient talks to a relay server over HTTP.
type HTTPClient struct {
	Base string
	HTTP *http.Client
}

// NewHTTPClient returns a client for the relay at base.
func NewHTTPClient(base string) *HTTPClient {
	return &HTTPClient{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ domain.RelayClient = (*HTTPClient)(nil)

func (c *HTTPClient) PostEnvelopes(ctx context.Context, envs []domain.Envelope) error {
	return c.do(ctx, http.MethodPost, "/v1/envelopes", envelopesRequest{Envelopes: envs}, nil)
}

func (c *HTTPClient) FetchEnvelopes(ctx context.Context, identity domain.Identity, device domain.UID, limit int) ([]domain.Envelope, error) {
	path := "/v1/envelopes/" + identity.Hex() + "/" + device.String()
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out envelopesRequest
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Envelopes, nil
}

func (c *HTTPClient) AckEnvelopes(ctx context.Context, identity domain.Identity, device domain.UID, ids []string) error {
	path := "/v1/envelopes/" + identity.Hex() + "/" + device.String() + "/ack"
	return c.do(ctx, http.MethodPost, path, ackRequest{IDs: ids}, nil)
}

func (c *HTTPClient) RegisterDevice(ctx context.Context, identity domain.Identity, device domain.UID) error {
	return c.do(ctx, http.MethodPut, "/v1/devices/"+identity.Hex(), deviceRequest{Device: device}, nil)
}

func (c *HTTPClient) DeviceUIDs(ctx context.Context, identity domain.Identity) ([]domain.UID, error) {
	var out devicesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/devices/"+identity.Hex(), nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *HTTPClient) PublishPreKey(ctx context.Context, spk domain.SignedPreKey) error {
	path := "/v1/prekeys/" + spk.Identity.Hex() + "/" + spk.Device.String()
	return c.do(ctx, http.MethodPut, path, spk, nil)
}

func (c *HTTPClient) FetchPreKeys(ctx context.Context, identity domain.Identity) ([]domain.SignedPreKey, error) {
	var out preKeysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/prekeys/"+identity.Hex(), nil, &out); err != nil {
		return nil, err
	}
	return out.PreKeys, nil
}

func (c *HTTPClient) PutPhoto(ctx context.Context, label, encrypted []byte) error {
	resp, err := c.send(ctx, http.MethodPut, photoPath(label), bytes.NewReader(encrypted), "application/octet-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.check(resp)
}

func (c *HTTPClient) GetPhoto(ctx context.Context, label []byte) ([]byte, bool, error) {
	resp, err := c.send(ctx, http.MethodGet, photoPath(label), nil, "")
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err := c.check(resp); err != nil {
		return nil, false, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *HTTPClient) Revoke(ctx context.Context, identity domain.Identity) error {
	return c.do(ctx, http.MethodPut, "/v1/revocation/"+identity.Hex(), nil, nil)
}

func (c *HTTPClient) IsRevoked(ctx context.Context, identity domain.Identity) (bool, error) {
	var out revocationResponse
	if err := c.do(ctx, http.MethodPost, "/v1/revocation/check", revocationRequest{Identity: identity}, &out); err != nil {
		return false, err
	}
	return out.Revoked, nil
}

func photoPath(label []byte) string {
	return "/v1/photos/" + url.PathEscape(hex.EncodeToString(label))
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body, contentType = buf, "application/json"
	}
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.check(resp); err != nil {
		return err
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.HTTP.Do(req)
}

func (c *HTTPClient) check(resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("relay %s %s: %s: %s", resp.Request.Method, resp.Request.URL, resp.Status, strings.TrimSpace(string(msg)))
}
