package service

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/x121/undotree/common/undo"
)

//go:embed undo_tree.schema.json
var treeSchemaSource string

const treeSchemaURL = "undo_tree.schema.json"

var treeSchema = mustCompileTreeSchema()

func mustCompileTreeSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(treeSchemaURL, strings.NewReader(treeSchemaSource)); err != nil {
		panic(fmt.Sprintf("undo tree schema: %v", err))
	}
	return compiler.MustCompile(treeSchemaURL)
}

// validateTreeShape checks field types of a tree blob before the structural
// checks in undo.ParseData run
func validateTreeShape(raw json.RawMessage) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", undo.ErrInvalidTreeJSON, err)
	}
	if err := treeSchema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", undo.ErrInvalidTreeJSON, err)
	}
	return nil
}
