package detect

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/presence.report/internal/geom"
)

// wireMessage is implemented by the detector messages declared in
// proto/detector.proto.
type wireMessage interface {
	appendWire(b []byte) []byte
	consumeWire(b []byte) error
}

// wireCodec encodes detector messages in protobuf wire format under the
// "proto" content subtype. Set with grpc.ForceCodec / grpc.ForceServerCodec.
type wireCodec struct{}

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("detector codec: cannot marshal %T", v)
	}
	return m.appendWire(nil), nil
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("detector codec: cannot unmarshal into %T", v)
	}
	return m.consumeWire(data)
}

func (wireCodec) Name() string { return "proto" }

func (r *TrackRequest) appendWire(b []byte) []byte {
	if r.Seq != 0 {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, r.Seq)
	}
	if r.Width != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(r.Width))))
	}
	if r.Height != 0 {
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(r.Height))))
	}
	if r.Format != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, r.Format)
	}
	if r.CapturedAt != 0 {
		b = protowire.AppendTag(b, 5, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.CapturedAt))
	}
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	if r.Model != "" {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, r.Model)
	}
	return b
}

func (r *TrackRequest) consumeWire(b []byte) error {
	*r = TrackRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Seq = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Width = int(int32(v))
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.Height = int(int32(v))
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Format = v
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.CapturedAt = int64(v)
			return n, nil
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			r.Data = append([]byte(nil), v...)
			return n, nil
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.Model = v
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func (r *TrackResponse) appendWire(b []byte) []byte {
	for _, d := range r.Detections {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDetection(nil, d))
	}
	return b
}

func (r *TrackResponse) consumeWire(b []byte) error {
	*r = TrackResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			d, err := consumeDetection(v)
			if err != nil {
				return 0, err
			}
			r.Detections = append(r.Detections, d)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
}

func appendDetection(b []byte, d Detection) []byte {
	if d.TrackID != nil {
		b = protowire.AppendTag(b, 1, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*d.TrackID))
	}
	if d.Class != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, d.Class)
	}
	if d.Confidence != 0 {
		b = appendDouble(b, 3, d.Confidence)
	}
	if d.BBox != (geom.BBox{}) {
		var box []byte
		for i, v := range []float64{d.BBox.X1, d.BBox.Y1, d.BBox.X2, d.BBox.Y2} {
			if v != 0 {
				box = appendDouble(box, protowire.Number(i+1), v)
			}
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, box)
	}
	return b
}

func consumeDetection(b []byte) (Detection, error) {
	var d Detection
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			d.TrackID = ID(int64(v))
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			d.Class = v
			return n, nil
		case num == 3 && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			d.Confidence = math.Float64frombits(v)
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			box, err := consumeBBox(v)
			d.BBox = box
			return n, err
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return d, err
}

func consumeBBox(b []byte) (geom.BBox, error) {
	var box geom.BBox
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.Fixed64Type || num < 1 || num > 4 {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeFixed64(b)
		f := math.Float64frombits(v)
		switch num {
		case 1:
			box.X1 = f
		case 2:
			box.Y1 = f
		case 3:
			box.X2 = f
		case 4:
			box.Y2 = f
		}
		return n, nil
	})
	return box, err
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// consumeFields walks every field in b. field returns the number of bytes
// consumed after the tag, negative on a malformed value.
func consumeFields(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}
