package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pledgepool/pledge-api/internal/auth"
	"github.com/pledgepool/pledge-api/internal/config"
	"github.com/pledgepool/pledge-api/internal/database"
	"github.com/pledgepool/pledge-api/internal/execution"
	"github.com/pledgepool/pledge-api/internal/pledge"
	"github.com/pledgepool/pledge-api/internal/pricing"
	"github.com/pledgepool/pledge-api/internal/session"
	"github.com/pledgepool/pledge-api/internal/types"
	"github.com/pledgepool/pledge-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minPledges    = 10
	maxPledges    = 60
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var (
	symbols = []string{"RELIANCE", "TCS", "HDFCBANK", "INFY", "ITC"}
	sides   = []string{"buy", "sell"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the pledge API
type simulationClient struct {
	baseURL     string
	traderToken string
	adminToken  string
	client      *http.Client
	stats       map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates both a trader and an admin against the API
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":           {name: "Authentication"},
			"create_session": {name: "Create Session"},
			"activate":       {name: "Activate Session"},
			"create_pledge":  {name: "Create Pledge"},
			"pay":            {name: "Pay Pledge"},
			"ready":          {name: "Ready Pledge"},
			"execute":        {name: "Execute Session"},
			"get_session":    {name: "Get Session"},
		},
	}

	traderToken, err := sc.authenticate(auth.TestAPIKey, auth.TestAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate trader: %w", err)
	}
	sc.traderToken = traderToken

	adminToken, err := sc.authenticate(auth.TestAdminKey, auth.TestAdminSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate admin: %w", err)
	}
	sc.adminToken = adminToken

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// doJSON issues an authenticated request and decodes the envelope's data field
func (sc *simulationClient) doJSON(method, url, token, statKey string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("response", string(respBody)).Str("url", url).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, url, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return nil
}

// createSession creates a new pledge session as the admin
func (sc *simulationClient) createSession(req session.CreateSessionRequest) (string, error) {
	var created types.PledgeSession
	err := sc.doJSON("POST", fmt.Sprintf("%s/api/v1/sessions", sc.baseURL),
		sc.adminToken, "create_session", req, &created)
	if err != nil {
		return "", err
	}
	if created.SessionID == "" {
		return "", fmt.Errorf("no session ID in response")
	}
	return created.SessionID, nil
}

// activateSession opens a draft session for pledging
func (sc *simulationClient) activateSession(sessionID string) error {
	return sc.doJSON("POST",
		fmt.Sprintf("%s/api/v1/sessions/%s/activate", sc.baseURL, sessionID),
		sc.adminToken, "activate", nil, nil)
}

// createPledge submits a new pledge to the API
// Returns the pledge ID on success
func (sc *simulationClient) createPledge(sessionID string, req pledge.CreatePledgeRequest) (string, error) {
	var created types.Pledge
	err := sc.doJSON("POST",
		fmt.Sprintf("%s/api/v1/sessions/%s/pledges", sc.baseURL, sessionID),
		sc.traderToken, "create_pledge", req, &created)
	if err != nil {
		return "", err
	}
	if created.PledgeID == "" {
		return "", fmt.Errorf("no pledge ID in response")
	}
	return created.PledgeID, nil
}

// payPledge records a payment against a pledge
func (sc *simulationClient) payPledge(pledgeID string) error {
	payload := pledge.PaymentRequest{PaymentID: "PAY_" + uuid.New().String()}
	return sc.doJSON("POST",
		fmt.Sprintf("%s/api/v1/pledges/%s/pay", sc.baseURL, pledgeID),
		sc.traderToken, "pay", payload, nil)
}

// readyPledge marks a paid pledge as eligible for execution
func (sc *simulationClient) readyPledge(pledgeID string) error {
	return sc.doJSON("POST",
		fmt.Sprintf("%s/api/v1/pledges/%s/ready", sc.baseURL, pledgeID),
		sc.traderToken, "ready", nil, nil)
}

// executeSession triggers one execution pass over a session
// Returns the batch summary on success
func (sc *simulationClient) executeSession(sessionID string) (*types.ExecutionSummary, error) {
	var summary types.ExecutionSummary
	err := sc.doJSON("POST",
		fmt.Sprintf("%s/api/v1/internal/sessions/%s/execute", sc.baseURL, sessionID),
		sc.adminToken, "execute", nil, &summary)
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// getSession retrieves the current state of a session
func (sc *simulationClient) getSession(sessionID string) (*types.PledgeSession, error) {
	var sess types.PledgeSession
	err := sc.doJSON("GET",
		fmt.Sprintf("%s/api/v1/sessions/%s", sc.baseURL, sessionID),
		sc.traderToken, "get_session", nil, &sess)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// simulationStats tracks the overall outcome of the run
type simulationStats struct {
	TotalPledges  int
	ReadyPledges  int
	FailedPledges int
	BuySucceeded  int
	BuyFailed     int
	SellSucceeded int
	SellFailed    int
	TotalValue    float64
	Sides         map[string]int
	StartTime     time.Time
}

// main runs the pledge simulation
// It starts a local API server and simulates concurrent traders pledging
// into a buy-sell cycle session which is then executed through both legs
func main() {
	// Start the server in-process
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Give the server a moment to come up
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulation client")
	}

	stats := &simulationStats{
		Sides:     make(map[string]int),
		StartTime: time.Now(),
	}

	symbol := symbols[rand.Intn(len(symbols))]
	sessionID, err := simClient.createSession(session.CreateSessionRequest{
		StockSymbol:   symbol,
		StockName:     symbol + " Ltd",
		Title:         fmt.Sprintf("%s group pledge", symbol),
		Description:   "simulated pledge pool",
		TargetPrice:   float64(rand.Intn(1000) + 100),
		StockPrice:    float64(rand.Intn(1000) + 100),
		SessionStart:  time.Now(),
		SessionEnd:    time.Now().Add(time.Hour),
		SessionMode:   types.ModeBuySellCycle,
		ExecutionRule: types.RuleManual,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create session")
	}
	log.Info().Str("session_id", sessionID).Str("symbol", symbol).Msg("Session created")

	if err := simClient.activateSession(sessionID); err != nil {
		log.Fatal().Err(err).Msg("Failed to activate session")
	}
	log.Info().Str("session_id", sessionID).Msg("Session activated")

	// Create pledges concurrently
	pledgesPerWorker := (rand.Intn(maxPledges-minPledges) + minPledges) / numWorkers
	pledgeChan := make(chan string, maxPledges)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			createPledgesHTTP(workerID, pledgesPerWorker, sessionID, simClient, pledgeChan)
		}(w)
	}

	wg.Wait()
	close(pledgeChan)

	// Walk each pledge through payment and readiness
	for pledgeID := range pledgeChan {
		stats.TotalPledges++

		if err := simClient.payPledge(pledgeID); err != nil {
			log.Error().Err(err).Str("pledge_id", pledgeID).Msg("Failed to pay pledge")
			stats.FailedPledges++
			continue
		}

		if err := simClient.readyPledge(pledgeID); err != nil {
			log.Error().Err(err).Str("pledge_id", pledgeID).Msg("Failed to ready pledge")
			stats.FailedPledges++
			continue
		}

		stats.ReadyPledges++
	}

	// Execute the buy leg
	buySummary, err := simClient.executeSession(sessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to execute buy leg")
	}
	stats.BuySucceeded = buySummary.Succeeded
	stats.BuyFailed = buySummary.Failed
	log.Info().
		Str("session_id", sessionID).
		Int("succeeded", buySummary.Succeeded).
		Int("failed", buySummary.Failed).
		Str("next_status", buySummary.NextStatus).
		Msg("Buy leg executed")

	// Execute the sell leg
	sellSummary, err := simClient.executeSession(sessionID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to execute sell leg")
	}
	stats.SellSucceeded = sellSummary.Succeeded
	stats.SellFailed = sellSummary.Failed
	log.Info().
		Str("session_id", sessionID).
		Int("succeeded", sellSummary.Succeeded).
		Int("failed", sellSummary.Failed).
		Str("next_status", sellSummary.NextStatus).
		Msg("Sell leg executed")

	// Fetch the final session state for aggregate totals
	finalSession, err := simClient.getSession(sessionID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch final session state")
	} else {
		stats.TotalValue = finalSession.TotalPledgeValue
		stats.Sides[types.SideBuy] = int(finalSession.BuyPledges)
		stats.Sides[types.SideSell] = int(finalSession.SellPledges)
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 PLEDGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Pledge Statistics
-------------------
Total Pledges:    %d
Ready:            %d
Failed Intake:    %d
Buy Executed:     %d
Buy Failed:       %d
Sell Executed:    %d
Sell Failed:      %d
Total Value:      ₹%.2f
Final Status:     %s
Duration:         %v

📉 Side Distribution
------------------
`, stats.TotalPledges, stats.ReadyPledges, stats.FailedPledges,
		stats.BuySucceeded, stats.BuyFailed, stats.SellSucceeded, stats.SellFailed,
		stats.TotalValue, finalStatus(finalSession), duration.Round(time.Millisecond))

	for side, count := range stats.Sides {
		barLength := 0
		if stats.TotalPledges > 0 {
			barLength = int(float64(count) / float64(stats.TotalPledges) * 20)
		}
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", side, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	// Success rate calculation
	successRate := 0.0
	if stats.ReadyPledges > 0 {
		successRate = float64(stats.BuySucceeded+stats.SellSucceeded) / float64(2*stats.ReadyPledges) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("total_pledges", stats.TotalPledges).
		Float64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

func finalStatus(sess *types.PledgeSession) string {
	if sess == nil {
		return "unknown"
	}
	return sess.Status
}

// createPledgesHTTP generates and submits random pledges to the API
// Runs as a worker goroutine, sending created pledge IDs to pledgeChan
func createPledgesHTTP(workerID, numPledges int, sessionID string, simClient *simulationClient, pledgeChan chan<- string) {
	for i := 0; i < numPledges; i++ {
		req := pledge.CreatePledgeRequest{
			DematAccountID:   fmt.Sprintf("DEMAT_%d_%d", workerID, i),
			Side:             sides[rand.Intn(len(sides))],
			Quantity:         int64(rand.Intn(100) + 1),
			PriceTarget:      float64(rand.Intn(1000) + 100),
			ConsentSigned:    true,
			RiskAcknowledged: true,
		}

		pledgeID, err := simClient.createPledge(sessionID, req)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("side", req.Side).
				Msg("Failed to create pledge")
			continue
		}

		pledgeChan <- pledgeID
		log.Info().
			Int("worker_id", workerID).
			Str("pledge_id", pledgeID).
			Str("side", req.Side).
			Int64("quantity", req.Quantity).
			Float64("price_target", req.PriceTarget).
			Msg("Pledge created")

		// Random sleep between pledges
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the pledge API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Get()

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(cfg.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, types.RoleTrader)
	authService.RegisterAPICredentials(auth.TestAdminKey, auth.TestAdminSecret, types.RoleAdmin)

	policy := pricing.NewPolicy(cfg.CommissionVersion, cfg.CommissionRate)
	sessionService := session.NewService(db)
	pledgeService := pledge.NewService(db, policy)
	executionService := execution.NewService(db, policy, cfg.ExecutionDelay)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	sessionHandlers := session.NewGinHandlers(sessionService)
	pledgeHandlers := pledge.NewGinHandlers(pledgeService)
	executionHandlers := execution.NewGinHandlers(executionService)

	// Setup routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, sessionHandlers, pledgeHandlers, executionHandlers)

	// Start the server
	return router.Run(":" + cfg.Port)
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	sessionHandlers *session.GinHandlers,
	pledgeHandlers *pledge.GinHandlers,
	executionHandlers *execution.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Session routes
		sessions := v1.Group("/sessions")
		sessions.Use(middleware.JWTAuth(jwtSecret))
		{
			sessions.POST("", sessionHandlers.CreateSessionHandler())
			sessions.GET("/:session_id", sessionHandlers.GetSessionHandler())
			sessions.POST("/:session_id/activate", sessionHandlers.ActivateSessionHandler())
			sessions.POST("/:session_id/pledges", pledgeHandlers.CreatePledgeHandler())
		}

		// Pledge routes
		pledges := v1.Group("/pledges")
		pledges.Use(middleware.JWTAuth(jwtSecret))
		{
			pledges.POST("/:pledge_id/pay", pledgeHandlers.MarkPaidHandler())
			pledges.POST("/:pledge_id/ready", pledgeHandlers.MarkReadyHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/sessions/:session_id/execute", executionHandlers.ExecuteSessionHandler())
		}
	}
}
