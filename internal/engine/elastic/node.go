package elastic

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"idxsync/internal/errs"
	"idxsync/internal/logging"
	"idxsync/internal/metrics"
)

var log = logging.Log("elastic")

// Node is one search-engine endpoint with its own client. The client never
// retries on its own; failover across nodes is done by Execute.
type Node struct {
	Host     string
	Username string
	Password string

	client *elasticsearch.Client
}

func NewNode(host, username, password string, transport http.RoundTripper) (*Node, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errs.Configuration("node", "host is required")
	}
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{host},
		Username:     username,
		Password:     password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "node", host, err)
	}
	return &Node{Host: host, Username: username, Password: password, client: client}, nil
}

type response struct {
	Status int
	Body   []byte
}

// perform sends req with a per-call timeout. Only transport failures are
// returned as errors; any HTTP status, successful or not, is a response.
func (n *Node) perform(ctx context.Context, timeout time.Duration, req esapi.Request) (response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := req.Do(ctx, n.client)
	if err != nil {
		return response{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return response{}, err
	}
	return response{Status: res.StatusCode, Body: body}, nil
}

var shuffle = func(nodes []*Node) {
	rand.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
}

// Execute runs op against the nodes in random order and returns the first
// success. Every node is tried at most once per call.
func Execute[T any](ctx context.Context, nodes []*Node, op func(context.Context, *Node) (T, error)) (T, error) {
	var zero T
	if len(nodes) == 0 {
		return zero, errs.Configuration("execute", "no nodes configured")
	}
	order := make([]*Node, len(nodes))
	copy(order, nodes)
	shuffle(order)

	var last error
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := op(ctx, n)
		if err == nil {
			return v, nil
		}
		last = err
		metrics.NodeFailures.WithLabelValues(n.Host).Inc()
		log.WithField("host", n.Host).WithError(err).Warn("node failed, trying next")
	}
	return zero, errs.Wrap(errs.KindRemoteProtocol, "execute", fmt.Sprintf("all %d nodes failed", len(order)), last)
}
