package packed

import (
	"fmt"

	"github.com/linkedin/goavro/v2"
)

const attributesSchema = `{
  "type": "record",
  "name": "Attributes",
  "fields": [
    {"name": "job", "type": "long"},
    {"name": "name", "type": "string"},
    {"name": "path", "type": "string"},
    {"name": "env", "type": {"type": "map", "values": "string"}},
    {"name": "idtuples", "type": {"type": "array", "items": {
      "type": "record", "name": "IDTupleKind",
      "fields": [
        {"name": "kind", "type": "int"},
        {"name": "name", "type": "string"}
      ]
    }}},
    {"name": "metrics", "type": {"type": "array", "items": {
      "type": "record", "name": "MetricAttr",
      "fields": [
        {"name": "name", "type": "string"},
        {"name": "desc", "type": "string"},
        {"name": "scopes", "type": "int"},
        {"name": "vis", "type": "int"},
        {"name": "hasOrderId", "type": "boolean"},
        {"name": "orderId", "type": "long"},
        {"name": "partials", "type": "int"}
      ]
    }}},
    {"name": "estats", "type": {"type": "array", "items": {
      "type": "record", "name": "ExtraStatAttr",
      "fields": [
        {"name": "name", "type": "string"},
        {"name": "desc", "type": "string"},
        {"name": "scopes", "type": "int"},
        {"name": "formula", "type": "string"}
      ]
    }}}
  ]
}`

const referencesSchema = `{
  "type": "record",
  "name": "References",
  "fields": [
    {"name": "modules", "type": {"type": "array", "items": {
      "type": "record", "name": "ModuleRef",
      "fields": [
        {"name": "path", "type": "string"},
        {"name": "relPath", "type": "string"}
      ]
    }}},
    {"name": "files", "type": {"type": "array", "items": {
      "type": "record", "name": "FileRef",
      "fields": [
        {"name": "path", "type": "string"},
        {"name": "relPath", "type": "string"}
      ]
    }}}
  ]
}`

var attributesCodec, referencesCodec *goavro.Codec

func init() {
	var err error
	attributesCodec, err = goavro.NewCodec(attributesSchema)
	if err != nil {
		panic(fmt.Sprintf("packed: invalid attributes schema: %v", err))
	}
	referencesCodec, err = goavro.NewCodec(referencesSchema)
	if err != nil {
		panic(fmt.Sprintf("packed: invalid references schema: %v", err))
	}
}
