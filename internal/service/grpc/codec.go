package grpcsvc

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName — content-subtype, под которым зарегистрирован JSON-кодек
// (content-type application/grpc+json).
const CodecName = "json"

// jsonCodec сериализует сообщения MarketService в JSON. Health-сервис
// продолжает работать через стандартный proto-кодек.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ClientCallOption переключает клиентские вызовы на JSON-кодек.
func ClientCallOption() grpc.CallOption {
	return grpc.CallContentSubtype(CodecName)
}
