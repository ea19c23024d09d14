package api

import (
	"net/http"

	"alphawave/internal/api/handlers"
	"alphawave/internal/api/middleware"
	"alphawave/internal/websocket"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Dependencies содержит все зависимости API; nil-поля отключают маршруты
type Dependencies struct {
	Trading handlers.TradingStatus
	Funding handlers.FundingStatus
	Hub     *websocket.Hub
	Origins []string
	// TokenHash - bcrypt-хеш токена; пусто = API открыт
	TokenHash string
	Logger    *zap.Logger
}

// SetupRoutes настраивает HTTP маршруты API статуса
//
// Структура маршрутов:
//
//	/health                  - проверка живости
//	/metrics                 - Prometheus
//	/api/v1/positions        - книга торгового движка
//	/api/v1/balance          - баланс аккаунта
//	/api/v1/funding          - последний отчёт фандинга
//	/api/v1/funding/{symbol} - символ по всем биржам
//	/ws/stream               - WebSocket стрим событий и уведомлений
//
// Middleware: Recovery, Logging, CORS (для всех маршрутов),
// TokenAuth для /api/v1 и /ws/stream
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.Origins))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	auth := middleware.TokenAuth(deps.TokenHash)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Trading != nil {
		th := handlers.NewTradingHandler(deps.Trading)
		api.HandleFunc("/positions", th.GetPositions).Methods(http.MethodGet)
		api.HandleFunc("/balance", th.GetBalance).Methods(http.MethodGet)
	}

	if deps.Funding != nil {
		fh := handlers.NewFundingHandler(deps.Funding)
		api.HandleFunc("/funding", fh.GetFunding).Methods(http.MethodGet)
		// символ содержит "/", поэтому шаблон .+
		api.HandleFunc("/funding/{symbol:.+}", fh.GetSymbol).Methods(http.MethodGet)
	}

	if deps.Hub != nil {
		router.Handle("/ws/stream", auth(deps.Hub.Handler(websocket.NewOriginChecker(deps.Origins))))
	}

	return router
}
