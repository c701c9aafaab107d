// Package whatsapp is the outbound delivery client for the WhatsApp
// Business Cloud API. Delivery is fire and forget relative to the live chat
// view: a failed send is logged and surfaced as a DeliveryError, never
// rolled back into the already-persisted conversation.
package whatsapp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"whatsapp-crm/internal/apperr"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/logger"
	"whatsapp-crm/internal/models"
)

const graphBase = "https://graph.facebook.com/v19.0"

type Client struct {
	cfg  *config.Config
	http *http.Client
	log  *logger.Logger
}

func NewClient(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		cfg: cfg,
		// The hub imposes no timeout of its own; the client must always
		// resolve rather than hang.
		http: &http.Client{Timeout: 15 * time.Second},
		log:  log.WithComponent("whatsapp"),
	}
}

// --- Wire structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *TextObj     `json:"text,omitempty"`
	Image            *MediaObj    `json:"image,omitempty"`
	Audio            *MediaObj    `json:"audio,omitempty"`
	Document         *MediaObj    `json:"document,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type MediaObj struct {
	ID       string `json:"id,omitempty"`
	Link     string `json:"link,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (c *Client) sendRequest(method, url string, body interface{}, headers map[string]string) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.WhatsAppToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	return respBody, nil
}

// SendRawMessage posts one message envelope to the provider. When the token
// or sender id is missing the send is skipped with a warning, so the rest of
// the relay keeps working in unconfigured environments.
func (c *Client) SendRawMessage(msg GenericMessage) error {
	if !c.cfg.OutboundEnabled() {
		c.log.Warn("outbound send skipped: WHATSAPP_TOKEN or PHONE_NUMBER_ID not configured", "to", msg.To)
		return nil
	}

	url := fmt.Sprintf("%s/%s/messages", graphBase, c.cfg.PhoneNumberID)
	if _, err := c.sendRequest("POST", url, msg, nil); err != nil {
		return apperr.Delivery(err)
	}
	return nil
}

// Deliver maps a canonical outbound message to the provider wire format.
func (c *Client) Deliver(msg *models.Message) error {
	out := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               msg.Phone,
		Type:             msg.Kind,
	}

	switch msg.Kind {
	case models.KindImage:
		out.Image = &MediaObj{ID: msg.MediaRef, Caption: msg.Body}
	case models.KindAudio:
		out.Audio = &MediaObj{ID: msg.MediaRef}
	case models.KindDocument:
		out.Document = &MediaObj{ID: msg.MediaRef, Caption: msg.Body}
	default:
		out.Type = models.KindText
		out.Text = &TextObj{Body: msg.Body}
	}

	return c.SendRawMessage(out)
}

// SendTemplate sends a named template with positional text parameters.
func (c *Client) SendTemplate(to, templateName, languageCode string, params []string) error {
	if languageCode == "" {
		languageCode = "es"
	}
	tpl := &TemplateObj{
		Name:     templateName,
		Language: LanguageObj{Code: languageCode},
	}
	if len(params) > 0 {
		component := ComponentObj{Type: "body"}
		for _, p := range params {
			component.Parameters = append(component.Parameters, ParameterObj{Type: "text", Text: p})
		}
		tpl.Components = append(tpl.Components, component)
	}

	return c.SendRawMessage(GenericMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tpl,
	})
}

// --- Media ---

type MediaResponse struct {
	ID string `json:"id"`
}

// UploadMedia pushes a file to the provider's media store and returns the
// provider media id. Callers fall back to local storage when outbound is
// not configured.
func (c *Client) UploadMedia(fileData []byte, mimeType, filename string) (*MediaResponse, error) {
	if !c.cfg.OutboundEnabled() {
		return nil, apperr.Delivery(fmt.Errorf("provider credentials not configured"))
	}

	url := fmt.Sprintf("%s/%s/media", graphBase, c.cfg.PhoneNumberID)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	part.Write(fileData)

	writer.WriteField("messaging_product", "whatsapp")
	writer.WriteField("type", mimeType)
	writer.Close()

	req, err := http.NewRequest("POST", url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.WhatsAppToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Delivery(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, apperr.Delivery(fmt.Errorf("upload failed: %s - %s", resp.Status, string(respBody)))
	}

	var mediaResp MediaResponse
	if err := json.Unmarshal(respBody, &mediaResp); err != nil {
		return nil, err
	}

	return &mediaResp, nil
}

// RetrieveMediaURL resolves a provider media id to a short-lived download
// URL. Fetching the bytes needs another authorized request to that URL.
func (c *Client) RetrieveMediaURL(mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s", graphBase, mediaID)
	resp, err := c.sendRequest("GET", url, nil, nil)
	if err != nil {
		return "", apperr.Delivery(err)
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(resp, &obj); err != nil {
		return "", err
	}
	return obj.URL, nil
}
