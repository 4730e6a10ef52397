// Package fetch provides GraphQL clients for retrieving vault state, price
// data and user positions from the protocol and price subgraphs.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// graphqlRequest is the standard POST envelope for subgraph queries
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphqlError is a single error entry in a subgraph response
type graphqlError struct {
	Message string `json:"message"`
}

// subgraphClient wraps an HTTP client with the query/decode cycle every
// subgraph call shares.
type subgraphClient struct {
	endpoint   string
	httpClient *http.Client
}

func newSubgraphClient(endpoint string, timeout time.Duration) *subgraphClient {
	retryClient := newRetryClient()
	retryClient.HTTPClient.Timeout = timeout
	return &subgraphClient{
		endpoint:   endpoint,
		httpClient: StandardClient(retryClient),
	}
}

// newRetryClient creates a new HTTP client with retry capabilities
func newRetryClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	c.Logger = nil
	return c
}

// StandardClient converts a retryablehttp.Client to a standard http.Client
func StandardClient(retryClient *retryablehttp.Client) *http.Client {
	return retryClient.StandardClient()
}

// query executes a GraphQL query and decodes the "data" object into out.
func (c *subgraphClient) query(ctx context.Context, query string, variables map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("error encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logrus.Debugf("Querying subgraph: %s", c.endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error querying subgraph: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subgraph error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []graphqlError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph returned error: %s", envelope.Errors[0].Message)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("subgraph returned no data")
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("error decoding data: %w", err)
	}
	return nil
}
