package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// Codec serialises values for one encoding.
type Codec interface {
	// Name is the encoding name carried in requests.
	Name() string

	// Marshal encodes v.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal decodes data into v.
	Unmarshal(data []byte, v interface{}) error
}

// Built-in codecs
var (
	Raw     Codec = rawCodec{}
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
	YAML    Codec = yamlCodec{}
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Codec{
		Raw.Name():     Raw,
		JSON.Name():    JSON,
		MsgPack.Name(): MsgPack,
		YAML.Name():    YAML,
	}
)

// Register adds or replaces a codec.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Name()] = c
}

// Lookup finds a codec by encoding name.
func Lookup(name string) (Codec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Names returns the registered encoding names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rawCodec passes bytes through unchanged.
type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, nil
		}
		return *b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("raw encoding cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch b := v.(type) {
	case *[]byte:
		*b = append((*b)[:0], data...)
		return nil
	case *string:
		*b = string(data)
		return nil
	default:
		return fmt.Errorf("raw encoding cannot unmarshal into %T", v)
	}
}

// jsonCodec uses encoding/json.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// msgpackCodec uses vmihailenco/msgpack.
type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// yamlCodec uses yaml.v3.
type yamlCodec struct{}

func (yamlCodec) Name() string { return "yaml" }

func (yamlCodec) Marshal(v interface{}) ([]byte, error) {
	return yaml.Marshal(v)
}

func (yamlCodec) Unmarshal(data []byte, v interface{}) error {
	return yaml.Unmarshal(data, v)
}
