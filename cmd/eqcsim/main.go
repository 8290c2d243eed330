package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/paulmach/orb"

	"eqcsim/internal/camera"
	"eqcsim/internal/commmedium"
	"eqcsim/internal/config"
	"eqcsim/internal/engine"
	"eqcsim/internal/follower"
	"eqcsim/internal/leader"
	"eqcsim/internal/lock"
	"eqcsim/internal/logging"
	"eqcsim/internal/metrics"
	"eqcsim/internal/mobility"
	"eqcsim/internal/model"
	"eqcsim/internal/poigen"
	"eqcsim/internal/poiregistry"
	"eqcsim/internal/telemetryfeed"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, overlays defaults)")
	seed := flag.Uint64("seed", 0, "PoI generator seed (0 = use config default)")
	numPOIs := flag.Int("num_pois", 0, "number of PoIs (0 = use config default)")
	numLeaders := flag.Int("num_leaders", 0, "number of leader (E-QC) agents (0 = use config default)")
	numFollowers := flag.Int("num_followers", 0, "number of follower (V-QC) agents (0 = use config default)")
	bufferSize := flag.Int("buffer_size", 0, "follower next2visit/discovered buffer size M (0 = use config default)")
	leaderSpeed := flag.Float64("leader_speed", 0, "leader patrol speed, units/sec (0 = use config default)")
	followerSpeed := flag.Float64("follower_speed", 0, "follower travel speed, units/sec (0 = use config default)")
	cameraReach := flag.Float64("camera_reach", 0, "camera slant detection reach, meters (0 = use config default)")
	policy := flag.String("policy", "", "assignment policy: greedy|round_robin|load_balancing (empty = use config default)")
	duration := flag.Float64("duration", 0, "simulated run duration, seconds (0 = use config default)")
	dashboardAddr := flag.String("dashboard-addr", "", "optional address to serve a read-only telemetry dashboard on (e.g. :8080)")
	flag.Parse()

	if err := run(*configPath, cliOverrides{
		seed: *seed, numPOIs: *numPOIs, numLeaders: *numLeaders, numFollowers: *numFollowers,
		bufferSize: *bufferSize, leaderSpeed: *leaderSpeed, followerSpeed: *followerSpeed,
		cameraReach: *cameraReach, policy: *policy, duration: *duration, dashboardAddr: *dashboardAddr,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "eqcsim: %v\n", err)
		os.Exit(1)
	}
}

type cliOverrides struct {
	seed                                             uint64
	numPOIs, numLeaders, numFollowers, bufferSize    int
	leaderSpeed, followerSpeed, cameraReach, duration float64
	policy, dashboardAddr                            string
}

func run(configPath string, ov cliOverrides) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyOverrides(cfg, ov)

	logger := logging.Init(cfg.Log.Level, os.Stderr)

	if err := cfg.Validate(); err != nil {
		return err
	}

	pois := poigen.Generate(cfg.Seed, cfg.NumPOIs, float64(cfg.AreaSide))
	reg := poiregistry.New(pois)
	collected := lock.New()
	global := metrics.NewGlobal()

	eng := engine.New(cfg.TelemetryTick.Seconds(), logger)
	medium := commmedium.New(float64(cfg.CommRange), cfg.Latency.Seconds(), eng, logger)

	var hub *telemetryfeed.Hub
	if ov.dashboardAddr != "" {
		hub = telemetryfeed.NewHub(logger)
		http.Handle("/ws", hub)
		go func() {
			if err := http.ListenAndServe(ov.dashboardAddr, nil); err != nil {
				logger.Warn("telemetry dashboard server stopped", "error", err)
			}
		}()
		logger.Info("telemetry dashboard listening", "addr", ov.dashboardAddr)
	}

	leaders := make([]*leader.Leader, 0, cfg.NumLeaders)
	for i := 0; i < cfg.NumLeaders; i++ {
		id := model.AgentID(fmt.Sprintf("eqc-%d", i))
		patrol := patrolPath(i, cfg.NumLeaders, float64(cfg.AreaSide))
		cam := camera.New(reg, float64(cfg.CameraReach))
		start := model.Point3{X: patrol[0][0], Y: patrol[0][1], Z: 50}
		l := leader.New(id, cfg, reg, collected, global, medium, eng, cam, start, patrol)
		l.SetPatrol(patrol)
		leaders = append(leaders, l)
		eng.Register(l)
	}

	followers := make([]*follower.Follower, 0, cfg.NumFollowers)
	for i := 0; i < cfg.NumFollowers; i++ {
		id := model.AgentID(fmt.Sprintf("vqc-%d", i))
		leaderIdx := i % cfg.NumLeaders
		leaderID := leaders[leaderIdx].ID()
		patrol := patrolPath(leaderIdx, cfg.NumLeaders, float64(cfg.AreaSide))
		leaderSpeedForThis := cfg.LeaderSpeed
		predict := func(t float64) orb.Point {
			return mobility.PredictAt(patrol, leaderSpeedForThis, t)
		}
		rank := i / cfg.NumLeaders
		start := model.Point3{X: patrol[0][0], Y: patrol[0][1], Z: 30}
		f := follower.New(id, leaderID, rank, cfg, reg, collected, medium, eng, start, predict)
		followers = append(followers, f)
		eng.Register(f)
	}

	eng.Run(cfg.Duration.Seconds())

	if hub != nil {
		hub.Broadcast(finalFrame(eng, leaders, followers, global))
	}

	printResults(cfg, reg, leaders, global)
	return nil
}

// finalFrame snapshots every agent's terminal position and the running
// metrics, for the optional dashboard's last broadcast before exit.
func finalFrame(eng *engine.Engine, leaders []*leader.Leader, followers []*follower.Follower, global *metrics.Global) telemetryfeed.Frame {
	agents := make([]telemetryfeed.AgentSnapshot, 0, len(leaders)+len(followers))
	for _, l := range leaders {
		p := l.Position()
		agents = append(agents, telemetryfeed.AgentSnapshot{ID: string(l.ID()), Role: "leader", X: p.X, Y: p.Y, Z: p.Z})
	}
	for _, f := range followers {
		p := f.Position()
		agents = append(agents, telemetryfeed.AgentSnapshot{ID: string(f.ID()), Role: "follower", X: p.X, Y: p.Y, Z: p.Z})
	}
	unique, score, redundant := global.Snapshot()
	return telemetryfeed.Frame{Time: eng.Now(), Agents: agents, Unique: unique, Score: score, Redundant: redundant}
}

func applyOverrides(cfg *config.Config, ov cliOverrides) {
	if ov.seed != 0 {
		cfg.Seed = ov.seed
	}
	if ov.numPOIs != 0 {
		cfg.NumPOIs = ov.numPOIs
	}
	if ov.numLeaders != 0 {
		cfg.NumLeaders = ov.numLeaders
	}
	if ov.numFollowers != 0 {
		cfg.NumFollowers = ov.numFollowers
	}
	if ov.bufferSize != 0 {
		cfg.BufferSize = ov.bufferSize
	}
	if ov.leaderSpeed != 0 {
		cfg.LeaderSpeed = ov.leaderSpeed
	}
	if ov.followerSpeed != 0 {
		cfg.FollowerSpeed = ov.followerSpeed
	}
	if ov.cameraReach != 0 {
		cfg.CameraReach = config.Distance(ov.cameraReach)
	}
	if ov.policy != "" {
		cfg.Policy = config.Policy(ov.policy)
	}
	if ov.duration != 0 {
		cfg.Duration = config.Duration(ov.duration * 1e9)
	}
}

// patrolPath builds the patrol for leader index idx out of n: the
// square area is split into n horizontal bands, and the leader flies
// back and forth along the midline of its band (two waypoints, looped).
func patrolPath(idx, n int, areaSide float64) []orb.Point {
	bandHeight := areaSide / float64(n)
	yLow := float64(idx) * bandHeight
	yHigh := yLow + bandHeight
	yMid := (yLow + yHigh) / 2
	return []orb.Point{
		{0, yMid},
		{areaSide, yMid},
	}
}

func printResults(cfg *config.Config, reg *poiregistry.Registry, leaders []*leader.Leader, global *metrics.Global) {
	var assignsSent, assignSuccess, redundant, camRaw, camMatches int
	var service, assignAck, e2e metrics.Bucket
	for _, l := range leaders {
		assignsSent += l.Counters.AssignsIssued
		assignSuccess += l.Counters.AssignSuccess
		redundant += l.Counters.RedundantDelivers
		camRaw += l.Counters.CamRaw
		camMatches += l.Counters.CamMatches
		mergeBucket(&service, &l.Lat.Service)
		mergeBucket(&assignAck, &l.Lat.AssignAck)
		mergeBucket(&e2e, &l.Lat.E2E)
	}

	unique, score, _ := global.Snapshot()
	total := reg.Len()
	coverageRate := 0.0
	if total > 0 {
		coverageRate = float64(unique) / float64(total)
	}
	rho := 0.0
	if cfg.NumLeaders > 0 {
		rho = float64(cfg.NumFollowers) / float64(cfg.NumLeaders)
	}

	fmt.Printf("RESULT seed=%d K=%d rho=%.2f num_pois=%d num_vqcs=%d M=%d policy=%s "+
		"assigns_sent=%d assign_success=%d redundant_delivers=%d "+
		"avg_latency=%.3fs p95_latency=%.3fs ack_delay_mean=%.3fs ack_delay_p95=%.3fs "+
		"e2e_mean=%.3fs e2e_p95=%.3fs coverage=%d/%d coverage_rate=%.3f global_score=%.3f "+
		"cam_raw=%d cam_matches=%d\n",
		cfg.Seed, cfg.NumLeaders, rho, cfg.NumPOIs, cfg.NumFollowers, cfg.BufferSize, cfg.Policy,
		assignsSent, assignSuccess, redundant,
		service.Mean(), service.P95(), assignAck.Mean(), assignAck.P95(),
		e2e.Mean(), e2e.P95(), unique, total, coverageRate, score,
		camRaw, camMatches)

	fmt.Println()
	fmt.Println("Leader  | assigns | success | redundant | cam_raw | cam_matches | weighted_score")
	for _, l := range leaders {
		fmt.Printf("%-7s | %7d | %7d | %9d | %7d | %11d | %.3f\n",
			l.ID(), l.Counters.AssignsIssued, l.Counters.AssignSuccess, l.Counters.RedundantDelivers,
			l.Counters.CamRaw, l.Counters.CamMatches, l.Counters.WeightedScore)
	}
}

func mergeBucket(into, from *metrics.Bucket) {
	for _, v := range from.Samples() {
		into.Add(v)
	}
}
