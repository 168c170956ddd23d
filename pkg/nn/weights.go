package nn

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// The weights container is a gzip-wrapped protobuf payload. Only the fields
// the engine needs are decoded; the raw payload is retained so Save can
// reproduce it byte for byte.
const weightsMagic = 0x1c0

// Proto field numbers of the weights container.
const (
	fieldMagic      = 1
	fieldLicense    = 2
	fieldMinVersion = 3
	fieldFormat     = 4
	fieldWeights    = 10

	formatNetworkFormat = 2

	netInput     = 1
	netStructure = 3
	netPolicy    = 4
	netValue     = 5
	netMovesLeft = 6
)

// Network-format enum values as stored on disk.
const (
	diskPolicyClassical   = 1
	diskPolicyConvolution = 2
	diskPolicyAttention   = 3
	diskValueClassical    = 1
	diskValueWDL          = 2
	diskMovesLeftNone     = 0
	diskMovesLeftV1       = 1
)

type WeightsFile struct {
	Magic      uint32
	License    string
	MinVersion [3]uint64
	Caps       Capabilities
	InputKind  uint64
	Structure  uint64

	raw     []byte // uncompressed payload
	weights []byte // raw Weights submessage
	fixedUp bool
}

// Layer is one linearly quantised weight tensor.
type Layer struct {
	MinVal, MaxVal float32
	Params         []byte
}

func LoadWeights(path string) (*WeightsFile, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "nn: open weights")
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "nn: weights are not gzip")
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrap(err, "nn: decompress weights")
	}
	return ParseWeights(raw)
}

func ParseWeights(raw []byte) (*WeightsFile, error) {
	var w = &WeightsFile{raw: raw}
	var data = raw
	for len(data) > 0 {
		var num, typ, n = protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.New("nn: malformed weights payload")
		}
		data = data[n:]
		switch {
		case num == fieldMagic && typ == protowire.Fixed32Type:
			var v, m = protowire.ConsumeFixed32(data)
			if m < 0 {
				return nil, errors.New("nn: malformed magic")
			}
			w.Magic = v
			data = data[m:]
		case num == fieldLicense && typ == protowire.BytesType:
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("nn: malformed license")
			}
			w.License = string(v)
			data = data[m:]
		case num == fieldMinVersion && typ == protowire.BytesType:
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("nn: malformed version")
			}
			parseVersion(v, &w.MinVersion)
			data = data[m:]
		case num == fieldFormat && typ == protowire.BytesType:
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("nn: malformed format")
			}
			if err := w.parseFormat(v); err != nil {
				return nil, err
			}
			data = data[m:]
		case num == fieldWeights && typ == protowire.BytesType:
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, errors.New("nn: malformed weights")
			}
			w.weights = v
			data = data[m:]
		default:
			var m = protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, errors.New("nn: malformed field")
			}
			data = data[m:]
		}
	}
	if w.Magic != weightsMagic {
		return nil, errors.Errorf("nn: bad weights magic %#x", w.Magic)
	}
	if w.MinVersion[0] > 0 {
		return nil, errors.Errorf("nn: weights require engine version %v.%v.%v",
			w.MinVersion[0], w.MinVersion[1], w.MinVersion[2])
	}
	w.fixUpFormat()
	return w, nil
}

func parseVersion(data []byte, out *[3]uint64) {
	for len(data) > 0 {
		var num, typ, n = protowire.ConsumeTag(data)
		if n < 0 {
			return
		}
		data = data[n:]
		if typ != protowire.VarintType {
			var m = protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return
			}
			data = data[m:]
			continue
		}
		var v, m = protowire.ConsumeVarint(data)
		if m < 0 {
			return
		}
		if num >= 1 && num <= 3 {
			out[num-1] = v
		}
		data = data[m:]
	}
}

func (w *WeightsFile) parseFormat(data []byte) error {
	for len(data) > 0 {
		var num, typ, n = protowire.ConsumeTag(data)
		if n < 0 {
			return errors.New("nn: malformed format")
		}
		data = data[n:]
		if num == formatNetworkFormat && typ == protowire.BytesType {
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return errors.New("nn: malformed network format")
			}
			w.parseNetworkFormat(v)
			data = data[m:]
			continue
		}
		var m = protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return errors.New("nn: malformed format field")
		}
		data = data[m:]
	}
	return nil
}

func (w *WeightsFile) parseNetworkFormat(data []byte) {
	for len(data) > 0 {
		var num, typ, n = protowire.ConsumeTag(data)
		if n < 0 {
			return
		}
		data = data[n:]
		if typ != protowire.VarintType {
			var m = protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return
			}
			data = data[m:]
			continue
		}
		var v, m = protowire.ConsumeVarint(data)
		if m < 0 {
			return
		}
		data = data[m:]
		switch num {
		case netInput:
			w.InputKind = v
		case netStructure:
			w.Structure = v
		case netPolicy:
			switch v {
			case diskPolicyConvolution:
				w.Caps.Policy = PolicyConvolution
			case diskPolicyAttention:
				w.Caps.Policy = PolicyAttention
			default:
				w.Caps.Policy = PolicyClassical
			}
		case netValue:
			if v == diskValueWDL {
				w.Caps.Value = ValueWDL
			} else {
				w.Caps.Value = ValueScalar
			}
		case netMovesLeft:
			if v == diskMovesLeftV1 {
				w.Caps.MovesLeft = MovesLeftV1
			} else {
				w.Caps.MovesLeft = MovesLeftNone
			}
		}
	}
}

// fixUpFormat normalises files written before the multi-head format fields
// existed: they are classical-everything scalar-value networks.
func (w *WeightsFile) fixUpFormat() {
	if w.Structure != 0 {
		return
	}
	w.fixedUp = true
	w.Caps = Capabilities{Policy: PolicyClassical, Value: ValueScalar, MovesLeft: MovesLeftNone}
}

// RawWeights exposes the untouched Weights submessage for backends that
// decode the tensors themselves.
func (w *WeightsFile) RawWeights() []byte { return w.weights }

// Save writes the payload back into a fresh gzip container. The payload is
// the original bytes, so load-save round trips are byte-identical.
func (w *WeightsFile) Save(path string) error {
	var buf bytes.Buffer
	var gz = gzip.NewWriter(&buf)
	if _, err := gz.Write(w.raw); err != nil {
		return errors.Wrap(err, "nn: compress weights")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "nn: compress weights")
	}
	return errors.Wrap(os.WriteFile(path, buf.Bytes(), 0o644), "nn: write weights")
}

func (w *WeightsFile) Payload() []byte { return w.raw }

// DecodeLayer reads a single quantised tensor submessage.
func DecodeLayer(data []byte) (Layer, error) {
	var layer Layer
	for len(data) > 0 {
		var num, typ, n = protowire.ConsumeTag(data)
		if n < 0 {
			return layer, errors.New("nn: malformed layer")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.Fixed32Type:
			var v, m = protowire.ConsumeFixed32(data)
			if m < 0 {
				return layer, errors.New("nn: malformed layer min")
			}
			layer.MinVal = math.Float32frombits(v)
			data = data[m:]
		case num == 2 && typ == protowire.Fixed32Type:
			var v, m = protowire.ConsumeFixed32(data)
			if m < 0 {
				return layer, errors.New("nn: malformed layer max")
			}
			layer.MaxVal = math.Float32frombits(v)
			data = data[m:]
		case num == 3 && typ == protowire.BytesType:
			var v, m = protowire.ConsumeBytes(data)
			if m < 0 {
				return layer, errors.New("nn: malformed layer params")
			}
			layer.Params = v
			data = data[m:]
		default:
			var m = protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return layer, errors.New("nn: malformed layer field")
			}
			data = data[m:]
		}
	}
	return layer, nil
}

// Dequantise expands 16-bit linear quantisation into floats.
func (l Layer) Dequantise() []float32 {
	var count = len(l.Params) / 2
	var out = make([]float32, count)
	var scale = (l.MaxVal - l.MinVal) / 65535
	for i := 0; i < count; i++ {
		var q = binary.LittleEndian.Uint16(l.Params[2*i:])
		out[i] = l.MinVal + float32(q)*scale
	}
	return out
}
