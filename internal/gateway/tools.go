package gateway

import "encoding/json"

// Gateway-provided tools. These exist on every session regardless of
// which device is selected.
const (
	toolDevicesList = "devices/list"
	toolDevicesSet  = "devices/set"
)

var gatewayTools = []Tool{
	{
		Name:        toolDevicesList,
		Description: "List the devices enrolled by the authenticated user.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {},
			"additionalProperties": false
		}`),
	},
	{
		Name:        toolDevicesSet,
		Description: "Select the device that subsequent tool calls are routed to.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"device_id": {
					"type": "string",
					"description": "ID of a device owned by the authenticated user."
				}
			},
			"required": ["device_id"],
			"additionalProperties": false
		}`),
	},
}

// textResult builds a successful tool result with one text block.
func textResult(text string) callToolResult {
	return callToolResult{Content: []textContent{{Type: "text", Text: text}}}
}

// errorResult builds a failed tool result with one text block. Tool
// execution failures travel as results, not protocol errors.
func errorResult(text string) callToolResult {
	return callToolResult{
		Content: []textContent{{Type: "text", Text: text}},
		IsError: true,
	}
}
