package model

// RetrieveInput is the argument object of the retrieve tool.
type RetrieveInput struct {
	Query string `json:"query"`
}

// RetrievedDocument is one fragment as reported back to the model.
type RetrievedDocument struct {
	Content  string           `json:"content"`
	Metadata FragmentMetadata `json:"metadata"`
}

// RetrieveOutput is the result of the retrieve tool.
type RetrieveOutput struct {
	Documents []RetrievedDocument `json:"documents"`
}
