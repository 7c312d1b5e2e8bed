package app

import (
	"io"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router serves the API over plain HTTP for local runs, translating each
// request into the API Gateway event the Lambda entrypoint receives. It also
// exposes /healthz and /metrics from gatherer.
func (app *App) Router(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.NoRoute(app.serveEvent)
	return r
}

func (app *App) serveEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		headers[k] = v[0]
	}
	query := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		query[k] = v[0]
	}

	resp, err := app.HandleRequest(c.Request.Context(), events.APIGatewayProxyRequest{
		Path:                  c.Request.URL.Path,
		HTTPMethod:            c.Request.Method,
		Headers:               headers,
		QueryStringParameters: query,
		Body:                  string(body),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for k, v := range resp.Headers {
		c.Header(k, v)
	}
	for k, vs := range resp.MultiValueHeaders {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	_, _ = c.Writer.WriteString(resp.Body)
}
