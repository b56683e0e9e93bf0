// Package handoff sends observation tensors to the external clustering
// service over gRPC.
package handoff

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/pipeline"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrMalformedReply = errors.New("malformed clustering reply")

const DefaultTimeout = 60 * time.Second

// Labels holds one cluster label per pixel, row-major over Height x Width.
type Labels struct {
	Height   int
	Width    int
	Clusters int
	Values   []int
}

func (l *Labels) At(y, x int) int { return l.Values[y*l.Width+x] }

// ClusteringClient represents a client for the clustering gRPC service.
type ClusteringClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logTag  string
}

// NewClusteringClient opens a plaintext connection to serverAddr. Extra
// dial options are appended after the defaults.
func NewClusteringClient(serverAddr string, opts ...grpc.DialOption) (*ClusteringClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clustering service: %w", err)
	}
	return &ClusteringClient{conn: conn, timeout: DefaultTimeout, logTag: log.TagClustering}, nil
}

func (c *ClusteringClient) Close() error {
	return c.conn.Close()
}

// Submit sends the observation and returns the per-pixel labels.
//
// Request fields: mode, crs, resolution, bbox [minx miny maxx maxy],
// shape [intervals bands height width], intervals (labels) and data, the
// tensor as base64 little-endian float32 in shape order.
// Reply fields: labels (height*width numbers) and clusters.
func (c *ClusteringClient) Submit(ctx context.Context, obs *pipeline.Observation) (*Labels, error) {
	req, err := EncodeObservation(obs)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log.Info(c.logTag+"submitting observation",
		zap.Int("intervals", obs.Tensor.Intervals),
		zap.Int("bands", obs.Tensor.Bands),
		zap.Int("height", obs.Tensor.Height),
		zap.Int("width", obs.Tensor.Width))

	reply := new(structpb.Struct)
	err = c.conn.Invoke(ctx, clusterObservation, req, reply,
		grpc.MaxCallRecvMsgSize(math.MaxInt32), grpc.MaxCallSendMsgSize(math.MaxInt32))
	if err != nil {
		return nil, fmt.Errorf("failed to call ClusterObservation: %w", err)
	}
	labels, err := decodeLabels(reply, obs.Tensor.Height, obs.Tensor.Width)
	if err != nil {
		return nil, err
	}
	log.Info(c.logTag+"received labels", zap.Int("clusters", labels.Clusters))
	return labels, nil
}

// EncodeObservation builds the request message for obs.
func EncodeObservation(obs *pipeline.Observation) (*structpb.Struct, error) {
	if obs == nil || obs.Tensor == nil {
		return nil, errors.New("nil observation")
	}
	t := obs.Tensor
	intervals := make([]any, len(obs.Intervals))
	for i, iv := range obs.Intervals {
		intervals[i] = iv.Label()
	}
	shape := t.Shape()
	return structpb.NewStruct(map[string]any{
		"mode":       string(obs.Mode),
		"crs":        "EPSG:3857",
		"resolution": obs.Resolution,
		"bbox":       []any{obs.Bound.Min[0], obs.Bound.Min[1], obs.Bound.Max[0], obs.Bound.Max[1]},
		"shape":      []any{shape[0], shape[1], shape[2], shape[3]},
		"intervals":  intervals,
		"data":       base64.StdEncoding.EncodeToString(EncodeFloat32(t.Data)),
	})
}

// EncodeFloat32 packs values as little-endian IEEE 754 float32.
func EncodeFloat32(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeFloat32 is the inverse of EncodeFloat32.
func DecodeFloat32(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out, nil
}

func decodeLabels(reply *structpb.Struct, height, width int) (*Labels, error) {
	fields := reply.GetFields()
	list := fields["labels"].GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: missing labels", ErrMalformedReply)
	}
	if len(list.Values) != height*width {
		return nil, fmt.Errorf("%w: got %d labels for %dx%d pixels", ErrMalformedReply, len(list.Values), height, width)
	}
	l := &Labels{
		Height:   height,
		Width:    width,
		Clusters: int(fields["clusters"].GetNumberValue()),
		Values:   make([]int, len(list.Values)),
	}
	for i, v := range list.Values {
		l.Values[i] = int(v.GetNumberValue())
	}
	return l, nil
}
