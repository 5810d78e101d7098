package gmail

import "time"

// Header is one entry of a message's ordered header sequence.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// EmailMessage is a fully fetched and parsed message. It is immutable once
// constructed from a provider response.
type EmailMessage struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId"`
	Snippet  string    `json:"snippet"`
	Headers  []Header  `json:"headers"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Date     time.Time `json:"date"`
	Body     string    `json:"body"`
}

// FetchResult is the outcome of a list-and-fetch operation. Individual
// message fetches can fail without failing the whole batch; Failed counts
// how many were dropped.
type FetchResult struct {
	Messages []EmailMessage `json:"messages"`
	Failed   int            `json:"failed,omitempty"`
}
