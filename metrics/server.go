package metrics

import (
	"evledger/internal/config"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Listen(conf *config.Config) error {
	if !conf.Metrics.Enabled {
		return nil
	}
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	address := conf.Metrics.BindIP + ":" + conf.Metrics.Port
	return http.ListenAndServe(address, router)
}
