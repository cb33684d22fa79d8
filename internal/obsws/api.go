package obsws

import (
	"context"
	"encoding/json"
)

// ========================= high-level API =========================

// Marshal turns v into request data. A nil v gives nil data.
func Marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Call marshals data, sends the request and unmarshals responseData into out
// when out is non-nil.
func (c *Client) Call(ctx context.Context, requestType string, data, out any) error {
	raw, err := Marshal(data)
	if err != nil {
		return err
	}
	resp, err := c.SendRequest(ctx, requestType, raw)
	if err != nil || out == nil || len(resp) == 0 {
		return err
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return violation(OpRequestResponse, "%s responseData: %v", requestType, err)
	}
	return nil
}

// Version is the responseData of GetVersion.
type Version struct {
	OBSVersion            string   `json:"obsVersion"`
	OBSWebSocketVersion   string   `json:"obsWebSocketVersion"`
	RPCVersion            int      `json:"rpcVersion"`
	AvailableRequests     []string `json:"availableRequests"`
	SupportedImageFormats []string `json:"supportedImageFormats"`
	Platform              string   `json:"platform"`
	PlatformDescription   string   `json:"platformDescription"`
}

func (c *Client) GetVersion(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.Call(ctx, "GetVersion", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.SendRequest(ctx, "GetStats", nil)
}

func (c *Client) GetSceneList(ctx context.Context) (json.RawMessage, error) {
	return c.SendRequest(ctx, "GetSceneList", nil)
}

func (c *Client) GetCurrentProgramScene(ctx context.Context) (string, error) {
	var out struct {
		SceneName string `json:"sceneName"`
	}
	if err := c.Call(ctx, "GetCurrentProgramScene", nil, &out); err != nil {
		return "", err
	}
	return out.SceneName, nil
}

func (c *Client) SetCurrentProgramScene(ctx context.Context, sceneName string) error {
	return c.Call(ctx, "SetCurrentProgramScene", map[string]string{"sceneName": sceneName}, nil)
}

// BroadcastCustomEvent asks the server to emit a CustomEvent to every
// subscribed client, this one included.
func (c *Client) BroadcastCustomEvent(ctx context.Context, eventData any) error {
	return c.Call(ctx, "BroadcastCustomEvent", map[string]any{"eventData": eventData}, nil)
}

// CallVendorRequest forwards a request to a third-party vendor registered with
// the server and returns the vendor's responseData.
func (c *Client) CallVendorRequest(ctx context.Context, vendorName, requestType string, data any) (json.RawMessage, error) {
	var out struct {
		ResponseData json.RawMessage `json:"responseData"`
	}
	in := map[string]any{"vendorName": vendorName, "requestType": requestType}
	if data != nil {
		in["requestData"] = data
	}
	if err := c.Call(ctx, "CallVendorRequest", in, &out); err != nil {
		return nil, err
	}
	return out.ResponseData, nil
}
