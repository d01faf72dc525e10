package server

import (
	"context"
	"encoding/base64"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a thin caller for the Redaction service.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upload submits a document and returns the job id.
func (c *Client) Upload(ctx context.Context, filename, contentType string, data []byte, languages ...string) (string, error) {
	langs := make([]any, 0, len(languages))
	for _, l := range languages {
		langs = append(langs, l)
	}
	out, err := c.call(ctx, "Upload", map[string]any{
		"filename":     filename,
		"content_type": contentType,
		"data":         data,
		"languages":    langs,
	})
	if err != nil {
		return "", err
	}
	return out.GetFields()["job_id"].GetStringValue(), nil
}

func (c *Client) Status(ctx context.Context, id string) (string, error) {
	out, err := c.call(ctx, "Status", map[string]any{"job_id": id})
	if err != nil {
		return "", err
	}
	return out.GetFields()["status"].GetStringValue(), nil
}

func (c *Client) Result(ctx context.Context, id string) (*structpb.Struct, error) {
	return c.call(ctx, "Result", map[string]any{"job_id": id})
}

func (c *Client) Review(ctx context.Context, id string, decisions map[int]bool) error {
	d := make(map[string]any, len(decisions))
	for k, v := range decisions {
		d[strconv.Itoa(k)] = v
	}
	_, err := c.call(ctx, "Review", map[string]any{"job_id": id, "decisions": d})
	return err
}

// Report fetches the decoded XLSX review workbook.
func (c *Client) Report(ctx context.Context, id string) ([]byte, error) {
	out, err := c.call(ctx, "Report", map[string]any{"job_id": id})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.GetFields()["data"].GetStringValue())
}
