package jsonrpc

import (
	"encoding/json"
	"errors"
)

// MessageType is an enumeration of the types of messages in the JSON-RPC protocol.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeNotification MessageType = "notification"
	MessageTypeResponse     MessageType = "response"
)

// Message is a wrapper around the different types of JSON-RPC messages (Request, Notification, Response).
type Message struct {
	Type         MessageType
	Request      *Request
	Notification *Notification
	Response     *Response
}

// Method returns the method of the underlying request or notification, or an empty string.
func (m *Message) Method() string {
	switch m.Type {
	case MessageTypeRequest:
		return m.Request.Method
	case MessageTypeNotification:
		return m.Notification.Method
	default:
		return ""
	}
}

// MarshalJSON is a custom JSON marshaler for the Message type.
func (m *Message) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case MessageTypeRequest:
		return json.Marshal(m.Request)
	case MessageTypeNotification:
		return json.Marshal(m.Notification)
	case MessageTypeResponse:
		return json.Marshal(m.Response)
	default:
		return nil, errors.New("unknown message type, couldn't marshal")
	}
}

// NewRequestMessage creates a new JSON-RPC message of type Request.
func NewRequestMessage(request *Request) *Message {
	return &Message{Type: MessageTypeRequest, Request: request}
}

// NewNotificationMessage creates a new JSON-RPC message of type Notification.
func NewNotificationMessage(notification *Notification) *Message {
	return &Message{Type: MessageTypeNotification, Notification: notification}
}

// NewResponseMessage creates a new JSON-RPC message of type Response.
func NewResponseMessage(response *Response) *Message {
	return &Message{Type: MessageTypeResponse, Response: response}
}

type probe struct {
	Id     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// TypeOf returns the message type encoded in raw data without fully decoding
// it. An explicit null id counts as present so error responses to unparseable
// requests classify as responses.
func TypeOf(data []byte) MessageType {
	aProbe := &probe{}
	_ = json.Unmarshal(data, aProbe)
	if aProbe.Id == nil {
		return MessageTypeNotification
	}
	if aProbe.Method != "" {
		return MessageTypeRequest
	}
	return MessageTypeResponse
}

// Parse decodes raw data into a Message based on its detected type.
func Parse(data []byte) (*Message, error) {
	switch TypeOf(data) {
	case MessageTypeRequest:
		request := &Request{}
		if err := json.Unmarshal(data, request); err != nil {
			return nil, err
		}
		return NewRequestMessage(request), nil
	case MessageTypeNotification:
		notification := &Notification{}
		if err := json.Unmarshal(data, notification); err != nil {
			return nil, err
		}
		return NewNotificationMessage(notification), nil
	default:
		response := &Response{}
		if err := json.Unmarshal(data, response); err != nil {
			return nil, err
		}
		return NewResponseMessage(response), nil
	}
}
