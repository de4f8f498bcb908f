package server

import (
	"testing"
)

func TestGetToolDefinitions(t *testing.T) {
	tools := GetToolDefinitions()

	if len(tools) == 0 {
		t.Fatal("GetToolDefinitions returned empty slice")
	}

	expectedTools := []string{
		"omr_process_sheet",
		"omr_get_scheme",
		"omr_regrade",
		"omr_detect_marks",
		"omr_render_overlay",
	}

	toolMap := make(map[string]Tool)
	for _, tool := range tools {
		if _, dup := toolMap[tool.Name]; dup {
			t.Errorf("Tool %s defined twice", tool.Name)
		}
		toolMap[tool.Name] = tool
	}

	for _, name := range expectedTools {
		if _, ok := toolMap[name]; !ok {
			t.Errorf("Expected tool %s not found", name)
		}
	}
	if len(tools) != len(expectedTools) {
		t.Errorf("Tool count: got %d, want %d", len(tools), len(expectedTools))
	}
}

func TestToolDefinitions_Structure(t *testing.T) {
	tools := GetToolDefinitions()

	for _, tool := range tools {
		t.Run(tool.Name, func(t *testing.T) {
			if tool.Description == "" {
				t.Error("Tool description is empty")
			}

			if tool.InputSchema["type"] != "object" {
				t.Errorf("InputSchema type: got %v, want 'object'", tool.InputSchema["type"])
			}

			props, ok := tool.InputSchema["properties"].(map[string]interface{})
			if !ok {
				t.Fatal("InputSchema properties should be a map")
			}

			required, ok := tool.InputSchema["required"].([]string)
			if !ok {
				t.Fatal("InputSchema required should be []string")
			}
			for _, name := range required {
				if _, ok := props[name]; !ok {
					t.Errorf("Required field %s has no property definition", name)
				}
			}

			for name, p := range props {
				prop, ok := p.(map[string]interface{})
				if !ok {
					t.Errorf("Property %s should be a map", name)
					continue
				}
				if prop["type"] == nil {
					t.Errorf("Property %s has no type", name)
				}
				if prop["description"] == nil {
					t.Errorf("Property %s has no description", name)
				}
			}
		})
	}
}

func TestToolDefinitions_SheetToolsShareArguments(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		switch tool.Name {
		case "omr_process_sheet", "omr_detect_marks", "omr_render_overlay":
		default:
			continue
		}
		props := tool.InputSchema["properties"].(map[string]interface{})
		for _, name := range []string{"path", "questions", "digits"} {
			if _, ok := props[name]; !ok {
				t.Errorf("%s: missing %s", tool.Name, name)
			}
		}
	}
}

func TestToolDefinitions_ProcessSheetRequiresTestID(t *testing.T) {
	for _, tool := range GetToolDefinitions() {
		if tool.Name != "omr_process_sheet" {
			continue
		}
		required := tool.InputSchema["required"].([]string)
		for _, name := range required {
			if name == "test_id" {
				return
			}
		}
		t.Errorf("test_id should be required, got %v", required)
	}
}
