package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"secure-room/common"
	"secure-room/configs"
)

// Upload sends data to the upload proxy as a multipart form.
func (c *APIClient) Upload(ctx context.Context, name, mimeType string, data []byte) (common.UploadResult, error) {
	token, err := c.token()
	if err != nil {
		return common.UploadResult{}, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return common.UploadResult{}, fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return common.UploadResult{}, fmt.Errorf("failed to write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return common.UploadResult{}, fmt.Errorf("failed to close form: %w", err)
	}

	target, err := c.resolve(configs.UploadPath)
	if err != nil {
		return common.UploadResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return common.UploadResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(configs.CSRFHeaderName, token)

	var out common.UploadResult
	if err := c.do(req, &out); err != nil {
		return common.UploadResult{}, fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return out, nil
}

// Download fetches the raw body at downloadURL, which may be relative to the server.
func (c *APIClient) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	target, err := c.resolve(downloadURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("server returned non-OK status: %s", resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download: %w", err)
	}
	return data, nil
}
