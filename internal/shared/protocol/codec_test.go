package protocol

import (
	"reflect"
	"testing"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		binary  bool
		wantErr bool
	}{
		{name: "", want: CodecJSON},
		{name: "json", want: CodecJSON},
		{name: "msgpack", want: CodecMsgpack, binary: true},
		{name: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CodecByName(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CodecByName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c.Name() != tt.want || c.Binary() != tt.binary {
				t.Errorf("CodecByName(%q) = %s (binary %v), want %s (binary %v)", tt.name, c.Name(), c.Binary(), tt.want, tt.binary)
			}
		})
	}
}

func TestCodecsCarryInboundRequest(t *testing.T) {
	req := &InboundRequest{
		ID:             "abcd1234-0000",
		Headers:        map[string]string{"accept": "text/html"},
		DeletedHeaders: map[string]string{"host": "abcd1234.example.com"},
		Query:          map[string][]string{"q": {"1", "2"}},
		Body:           []byte{0x01, 0x02, 0xff},
		Path:           "/foo?q=1&q=2",
		Method:         "POST",
		Origin:         "203.0.113.9",
	}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(EventRequest, req)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}

			msg, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if msg.Event != EventRequest {
				t.Errorf("Event = %q, want %q", msg.Event, EventRequest)
			}

			var got InboundRequest
			if err := msg.Bind(&got); err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			if !reflect.DeepEqual(&got, req) {
				t.Errorf("Bind() = %+v, want %+v", got, *req)
			}
		})
	}
}

func TestCodecsCarryOutboundResult(t *testing.T) {
	res := &OutboundResult{
		ID:           "abcd1234-0000",
		Status:       201,
		Headers:      map[string]any{"x-test": "1", "set-cookie": []string{"a=1", "b=2"}},
		ResponseText: "ok",
	}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(EventResponse, res)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			msg, err := codec.Decode(data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			var got OutboundResult
			if err := msg.Bind(&got); err != nil {
				t.Fatalf("Bind() error = %v", err)
			}
			if got.StatusCode() != 201 {
				t.Errorf("StatusCode() = %d, want 201", got.StatusCode())
			}
			want := map[string][]string{"x-test": {"1"}, "set-cookie": {"a=1", "b=2"}}
			if !reflect.DeepEqual(got.HeaderValues(), want) {
				t.Errorf("HeaderValues() = %v, want %v", got.HeaderValues(), want)
			}
			if got.IsBinary() || string(got.Payload()) != "ok" {
				t.Errorf("Payload() = %q, want %q", got.Payload(), "ok")
			}
		})
	}
}

func TestJSONCodecDecodesClientFrame(t *testing.T) {
	frame := []byte(`{"event":"onResponse","data":{"id":"x-1","status":"200","headers":{"content-type":"text/plain"},"response_text":"hi"}}`)

	msg, err := JSONCodec{}.Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	var res OutboundResult
	if err := msg.Bind(&res); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	if res.ID != "x-1" || res.StatusCode() != 200 || res.ResponseText != "hi" {
		t.Errorf("decoded result = %+v", res)
	}
}

func TestCodecDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		codec Codec
		data  []byte
	}{
		{name: "json garbage", codec: JSONCodec{}, data: []byte("{not json")},
		{name: "json no event", codec: JSONCodec{}, data: []byte(`{"data":{}}`)},
		{name: "msgpack garbage", codec: MsgpackCodec{}, data: []byte{0xc1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.codec.Decode(tt.data); err == nil {
				t.Error("Decode() error = nil, want error")
			}
		})
	}
}

func TestMessageBindWithoutPayload(t *testing.T) {
	msg, err := JSONCodec{}.Decode([]byte(`{"event":"onResponse"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	var res OutboundResult
	if err := msg.Bind(&res); err == nil {
		t.Error("Bind() without payload error = nil, want error")
	}
}

func BenchmarkJSONEncodeRequest(b *testing.B) {
	req := &InboundRequest{ID: "abcd1234-0000", Path: "/", Method: "GET", Headers: map[string]string{"accept": "*/*"}}
	c := JSONCodec{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Encode(EventRequest, req)
	}
}

func BenchmarkMsgpackEncodeRequest(b *testing.B) {
	req := &InboundRequest{ID: "abcd1234-0000", Path: "/", Method: "GET", Headers: map[string]string{"accept": "*/*"}}
	c := MsgpackCodec{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Encode(EventRequest, req)
	}
}
