package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"tunnelproxy/internal/client/metrics"
	"tunnelproxy/internal/shared/constants"
	"tunnelproxy/internal/shared/httputil"
	"tunnelproxy/internal/shared/pool"
	"tunnelproxy/internal/shared/protocol"
	"tunnelproxy/internal/shared/recovery"
	"tunnelproxy/internal/shared/stats"
	"tunnelproxy/internal/shared/utils"
)

// Executor replays relayed requests against the local target server.
type Executor struct {
	localPort int
	baseURL   string
	timeout   time.Duration

	client *http.Client
	stats  *stats.TunnelStats
	panics *recovery.PanicMetrics
	logger *zap.Logger

	onDone func(RequestResult)
}

// NewExecutor creates an executor targeting http://localhost:<localPort>.
func NewExecutor(localPort int, requestTimeout, dialTimeout time.Duration, st *stats.TunnelStats, logger *zap.Logger) *Executor {
	if st == nil {
		st = stats.NewTunnelStats()
	}
	return &Executor{
		localPort: localPort,
		baseURL:   "http://localhost:" + strconv.Itoa(localPort),
		timeout:   requestTimeout,
		client:    newLocalHTTPClient(dialTimeout),
		stats:     st,
		panics:    recovery.NewPanicMetrics(logger),
		logger:    logger,
	}
}

func newLocalHTTPClient(dialTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
	}
	return &http.Client{
		Transport: transport,
		// Redirects belong to the remote caller.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// callError is a failure that is answered with a synthetic response.
type callError struct {
	status  int
	message string
	err     error
}

func (e *callError) Error() string {
	return fmt.Sprintf("%s: %v", e.message, e.err)
}

func (e *callError) Unwrap() error { return e.err }

// Handle executes req and sends exactly one response through s, whatever the
// outcome of the local call.
func (e *Executor) Handle(s Sender, req *protocol.RequestMessage) {
	start := time.Now()
	e.stats.BeginRequest()
	metrics.RequestsInFlight.Inc()

	resp, callErr := e.Execute(req)

	sendErr := s.Send(resp)
	if sendErr != nil && !errors.Is(sendErr, ErrConnClosed) {
		e.logger.Warn("Failed to send response, answering with error",
			zap.String("url", req.URL),
			zap.Error(sendErr),
		)
		resp = protocol.NewErrorResponse(req.ID, http.StatusInternalServerError, constants.ErrMsgInternal, e.localPort)
		sendErr = s.Send(resp)
	}
	if sendErr != nil {
		e.logger.Warn("Response dropped, tunnel connection unavailable",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Error(sendErr),
		)
	}

	duration := time.Since(start)
	failed := callErr != nil || sendErr != nil
	e.stats.EndRequest(failed)
	metrics.RequestsInFlight.Dec()

	status := strconv.Itoa(resp.StatusCode)
	metrics.RequestsTotal.WithLabelValues(req.Method, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Method, status).Observe(duration.Seconds())

	e.logger.Info("Request relayed",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	)

	if e.onDone != nil {
		err := callErr
		if sendErr != nil {
			err = sendErr
		}
		e.onDone(RequestResult{
			ID:         req.ID.String(),
			Method:     req.Method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Duration:   duration,
			BytesOut:   len(resp.Body),
			Err:        err,
		})
	}
}

// Execute performs the local call for req and builds the response message.
// On failure the returned message is the synthetic error response and the
// error describes what went wrong.
func (e *Executor) Execute(req *protocol.RequestMessage) (resp *protocol.ResponseMessage, err error) {
	defer e.panics.Recover("tunnel.handleRequest", func(v interface{}) {
		ce := &callError{
			status:  http.StatusInternalServerError,
			message: constants.ErrMsgInternal,
			err:     fmt.Errorf("panic: %v", v),
		}
		resp, err = e.errorResponse(req.ID, ce), ce
	})

	msg, err := e.execute(req)
	if err != nil {
		var ce *callError
		if !errors.As(err, &ce) {
			ce = &callError{status: http.StatusInternalServerError, message: constants.ErrMsgInternal, err: err}
		}
		e.logger.Warn("Local request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.Int("status", ce.status),
			zap.Bool("timeout", utils.IsTimeout(ce.err)),
			zap.Error(ce.err),
		)
		return e.errorResponse(req.ID, ce), ce
	}
	return msg, nil
}

func (e *Executor) errorResponse(id protocol.RequestID, ce *callError) *protocol.ResponseMessage {
	return protocol.NewErrorResponse(id, ce.status, ce.message, e.localPort)
}

func (e *Executor) execute(req *protocol.RequestMessage) (*protocol.ResponseMessage, error) {
	if req.Method == "" || req.URL == "" {
		return nil, &callError{
			status:  http.StatusInternalServerError,
			message: constants.ErrMsgInvalidRequest,
			err:     ErrInvalidRequest,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	httpReq, err := e.buildRequest(ctx, req)
	if err != nil {
		return nil, &callError{status: http.StatusInternalServerError, message: constants.ErrMsgInternal, err: err}
	}

	if ce := e.logger.Check(zap.DebugLevel, "Incoming request"); ce != nil {
		body, _ := req.BodyText()
		// Host is not forwarded; log what the public caller asked for.
		host, _ := req.Headers.Get("Host")
		ce.Write(
			zap.String("method", req.Method),
			zap.String("url", req.URL),
			zap.String("public_host", host),
			zap.Any("headers", req.Headers),
			zap.String("body", body),
		)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &callError{status: http.StatusBadGateway, message: constants.ErrMsgLocalConnect, err: err}
	}
	defer httpResp.Body.Close()

	headers := httputil.FirstValues(httpResp.Header)

	// The pooled body is copied into the message before the buffer is reused.
	var resp *protocol.ResponseMessage
	err = pool.ReadAll(httpResp.Body, func(body []byte) error {
		if ce := e.logger.Check(zap.DebugLevel, "Local response"); ce != nil {
			ce.Write(
				zap.Int("status", httpResp.StatusCode),
				zap.Any("headers", headers),
				zap.ByteString("body", body),
			)
		}
		resp = protocol.NewResponseMessage(req.ID, httpResp.StatusCode, headers, body)
		return nil
	})
	if err != nil {
		return nil, &callError{status: http.StatusBadGateway, message: constants.ErrMsgProcessResponse, err: err}
	}
	return resp, nil
}

func (e *Executor) buildRequest(ctx context.Context, req *protocol.RequestMessage) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if text, ok := req.BodyText(); ok {
		body = strings.NewReader(text)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, e.baseURL+req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build local request: %w", err)
	}

	if rejected := httputil.CopyForwardHeaders(httpReq.Header, req.Headers); len(rejected) > 0 {
		e.logger.Debug("Skipped invalid headers", zap.Strings("headers", rejected))
	}
	return httpReq, nil
}
