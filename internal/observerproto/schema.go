package observerproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	invschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const subscribeSchemaURL = "https://fogfield.dev/schemas/observer/subscribe.schema.json"

var (
	subscribeOnce   sync.Once
	subscribeSchema *jsonschema.Schema
	subscribeErr    error
)

// SubscribeSchemaJSON reflects the SUBSCRIBE schema from SubscribeMsg.
func SubscribeSchemaJSON() ([]byte, error) {
	r := invschema.Reflector{DoNotReference: true}
	s := r.Reflect(&SubscribeMsg{})
	if s == nil {
		return nil, fmt.Errorf("reflect SubscribeMsg")
	}
	s.Version = ""
	s.Title = "Observer SUBSCRIBE"
	return json.Marshal(s)
}

func compileSubscribe() {
	raw, err := SubscribeSchemaJSON()
	if err != nil {
		subscribeErr = err
		return
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(subscribeSchemaURL, bytes.NewReader(raw)); err != nil {
		subscribeErr = fmt.Errorf("add subscribe schema: %w", err)
		return
	}
	subscribeSchema, subscribeErr = c.Compile(subscribeSchemaURL)
}

// DecodeSubscribe validates raw against the SUBSCRIBE schema and decodes it.
func DecodeSubscribe(raw []byte) (SubscribeMsg, error) {
	var sub SubscribeMsg
	subscribeOnce.Do(compileSubscribe)
	if subscribeErr != nil {
		return sub, subscribeErr
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return sub, fmt.Errorf("decode: %w", err)
	}
	if err := subscribeSchema.Validate(v); err != nil {
		return sub, fmt.Errorf("SUBSCRIBE: %w", err)
	}
	if err := json.Unmarshal(raw, &sub); err != nil {
		return sub, fmt.Errorf("decode: %w", err)
	}
	if sub.ProtocolVersion != Version {
		return sub, fmt.Errorf("unsupported protocol_version %q", sub.ProtocolVersion)
	}
	return sub, nil
}
