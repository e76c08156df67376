package httpserver

import (
	"net/http"

	"github.com/WhyNeet/t3-chat-clone/internal/httpserver/protocol"
)

type completionsEndpoint struct {
	server *Server
}

func newCompletionsEndpoint(server *Server) protocol.Endpoint {
	return &completionsEndpoint{server: server}
}

func (e *completionsEndpoint) Name() string { return "completions" }

func (e *completionsEndpoint) Routes() []protocol.EndpointRoute {
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/completions/prompt/{chat_id}", Handler: http.HandlerFunc(e.server.handlePrompt), Private: true, Limited: true},
		{Method: http.MethodGet, Path: "/completions/prompt/sse/{stream_id}", Handler: http.HandlerFunc(e.server.handlePromptSSE), Private: true},
	}
}
