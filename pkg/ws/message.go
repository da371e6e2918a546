package ws

import (
	"encoding/json"
	"time"

	"github.com/tokmz/rtguard/pkg/errors"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeNotify   MessageType = "notify"
	MessageTypeError    MessageType = "error"
)

// Message 入站消息，也用作出站通知
type Message struct {
	Type      MessageType     `json:"type"`
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Unmarshal 解析消息数据
func (m *Message) Unmarshal(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Response 请求的应答
type Response struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorResponse 错误应答，只包含错误码和原因
type ErrorResponse struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
	Code      int         `json:"code"`
	Reason    string      `json:"reason"`
	Timestamp int64       `json:"timestamp"`
}

// encodeNotify 广播用，编码一次后发给所有接收者
func encodeNotify(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{
		Type:      MessageTypeNotify,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func newResponse(requestID string, data any) *Response {
	return &Response{
		Type:      MessageTypeResponse,
		RequestID: requestID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

func newErrorResponse(requestID string, e *errors.Error) *ErrorResponse {
	return &ErrorResponse{
		Type:      MessageTypeError,
		RequestID: requestID,
		Code:      e.Code,
		Reason:    e.Reason,
		Timestamp: time.Now().Unix(),
	}
}
