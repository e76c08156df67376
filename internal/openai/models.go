package openai

// ModelList is the body of an OpenAI-compatible GET /v1/models response.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// Model is one entry of a ModelList.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// NewModelList wraps models in a list envelope.
func NewModelList(models []Model) ModelList {
	if models == nil {
		models = []Model{}
	}
	return ModelList{Object: "list", Data: models}
}

// NewModel builds a list entry for a model identifier.
func NewModel(id, ownedBy string) Model {
	return Model{ID: id, Object: "model", OwnedBy: ownedBy}
}
