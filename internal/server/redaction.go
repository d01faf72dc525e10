package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
	"github.com/joseph-ayodele/pii-masker/internal/service"
)

// Backend is the service the transport delegates to.
type Backend interface {
	Upload(ctx context.Context, req service.UploadRequest) (string, error)
	Status(ctx context.Context, id string) (constants.JobStatus, error)
	Result(ctx context.Context, id string) (*entity.Result, error)
	RecordReview(ctx context.Context, id string, decisions map[int]bool) error
	ReviewReport(ctx context.Context, id string) ([]byte, error)
}

type RedactionService struct {
	backend Backend
	logger  *slog.Logger
}

func NewRedactionService(backend Backend, logger *slog.Logger) *RedactionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedactionService{backend: backend, logger: logger}
}

var _ RedactionServer = (*RedactionService)(nil)

// Upload expects {filename, content_type, data (base64), languages[]} and returns {job_id, status}.
func (s *RedactionService) Upload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	raw := f["data"].GetStringValue()
	if raw == "" {
		return nil, common.InvalidArgumentError("data is required")
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, common.InvalidArgumentErrorf("data must be base64: %v", err)
	}
	langs := stringList(f["languages"])

	id, err := s.backend.Upload(ctx, service.UploadRequest{
		Filename:    f["filename"].GetStringValue(),
		ContentType: f["content_type"].GetStringValue(),
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		Languages:   langs,
	})
	if err != nil {
		s.logger.Warn("upload rejected", "error", err)
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"job_id": id,
		"status": string(constants.JobStatusPending),
	})
}

func (s *RedactionService) Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, err
	}
	st, err := s.backend.Status(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{"job_id": id, "status": string(st)})
}

// Result returns the detections, the flagged indices and the base64 redacted image.
func (s *RedactionService) Result(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, err
	}
	res, err := s.backend.Result(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	out, err := structpb.NewStruct(ResultFields(id, res))
	if err != nil {
		s.logger.Error("encode result", "job_id", id, "error", err)
		return nil, status.Error(codes.Internal, "encode result")
	}
	return out, nil
}

// Review expects {job_id, decisions: {"<index>": bool}}.
func (s *RedactionService) Review(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, err
	}
	raw := req.GetFields()["decisions"].GetStructValue().GetFields()
	decisions := make(map[int]bool, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, common.InvalidArgumentErrorf("decision key %q is not an index", k)
		}
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, common.InvalidArgumentErrorf("decision %q must be a boolean", k)
		}
		decisions[idx] = b.BoolValue
	}
	if err := s.backend.RecordReview(ctx, id, decisions); err != nil {
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{"job_id": id, "recorded": len(decisions)})
}

// Report returns the XLSX review workbook as base64.
func (s *RedactionService) Report(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := jobID(req)
	if err != nil {
		return nil, err
	}
	xlsx, err := s.backend.ReviewReport(ctx, id)
	if err != nil {
		return nil, common.ToStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"job_id":   id,
		"filename": id + "_review.xlsx",
		"data":     xlsx,
	})
}

// ResultFields flattens a result into structpb-compatible values.
func ResultFields(id string, res *entity.Result) map[string]any {
	flaggedSet := flaggedIndices(res)
	dets := make([]any, 0, len(res.Detections))
	flagged := make([]any, 0, len(flaggedSet))
	for i, d := range res.Detections {
		_, isFlagged := flaggedSet[i]
		if isFlagged {
			flagged = append(flagged, i)
		}
		bbox := make([]any, 0, len(d.BBox))
		for _, p := range d.BBox {
			bbox = append(bbox, []any{p.X, p.Y})
		}
		dets = append(dets, map[string]any{
			"index":      i,
			"type":       string(d.Type),
			"text":       d.Text,
			"confidence": d.Confidence,
			"flagged":    isFlagged,
			"bbox":       bbox,
		})
	}
	langs := make([]any, 0, len(res.Languages))
	for _, l := range res.Languages {
		langs = append(langs, l)
	}
	return map[string]any{
		"job_id":         id,
		"languages":      langs,
		"detections":     dets,
		"flagged":        flagged,
		"redacted_image": res.RedactedImage,
		"mime_type":      res.RedactedMIME,
	}
}

// flaggedIndices locates the flagged subsequence inside the detections.
func flaggedIndices(res *entity.Result) map[int]struct{} {
	out := make(map[int]struct{}, len(res.Flagged))
	j := 0
	for i, d := range res.Detections {
		if j < len(res.Flagged) && d == res.Flagged[j] {
			out[i] = struct{}{}
			j++
		}
	}
	return out
}

func jobID(req *structpb.Struct) (string, error) {
	id := strings.TrimSpace(req.GetFields()["job_id"].GetStringValue())
	if id == "" {
		return "", status.Error(codes.InvalidArgument, "job_id is required")
	}
	return id, nil
}

func stringList(v *structpb.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := strings.TrimSpace(item.GetStringValue()); s != "" {
			out = append(out, s)
		}
	}
	// a comma separated string is accepted too
	if out == nil {
		for _, s := range strings.Split(v.GetStringValue(), ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// LoggingInterceptor tags each call with a request id and logs its outcome.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		reqID := uuid.NewString()
		ctx = common.WithRequestID(ctx, reqID)
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		attrs := []any{"method", info.FullMethod, "request_id", reqID, "code", code.String(), "duration_ms", time.Since(start).Milliseconds()}
		if err != nil && code == codes.Internal {
			logger.Error("grpc call failed", append(attrs, "error", err)...)
		} else {
			logger.Debug("grpc call", attrs...)
		}
		return resp, err
	}
}

// ServerOptions sizes the message limits so a maximal upload fits once base64-encoded.
func ServerOptions(maxUpload int64, logger *slog.Logger) []grpc.ServerOption {
	limit := int(maxUpload*4/3) + 64*1024
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(limit),
		grpc.MaxSendMsgSize(2 * limit),
		grpc.UnaryInterceptor(LoggingInterceptor(logger)),
	}
}
