package geo

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/glass-allocation/internal/models"
)

// RedisDirectory implements ShopDirectory on Redis: GEOADD for shop
// coordinates, a hash per shop for capabilities and rolling metrics, and
// a set of known ids. The metric fields of the hash are refreshed by the
// offer-event consumer, so reads here see whatever it last aggregated.
type RedisDirectory struct {
	client *redis.Client
	geoKey string
	ctx    context.Context
}

func NewRedisDirectory(addr, password, geoKey string) *RedisDirectory {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisDirectory{client: c, geoKey: geoKey, ctx: context.Background()}
}

const shopIndexKey = "shops_index"

func metaKey(id string) string { return "shop:meta:" + id }

func (r *RedisDirectory) Upsert(s models.Shop) {
	_ = r.client.SAdd(r.ctx, shopIndexKey, s.ID).Err()
	if s.Loc != nil {
		_, _ = r.client.GeoAdd(r.ctx, r.geoKey, &redis.GeoLocation{Longitude: s.Loc.Lon, Latitude: s.Loc.Lat, Name: s.ID}).Result()
	}
	quality := ""
	if s.Metrics.QualityScore != nil {
		quality = strconv.FormatFloat(*s.Metrics.QualityScore, 'f', -1, 64)
	}
	_ = r.client.HSet(r.ctx, metaKey(s.ID), map[string]interface{}{
		"name":             s.Name,
		"address":          s.Address,
		"capability":       string(s.ServiceCapability),
		"repair_types":     string(s.RepairTypes),
		"adas":             strconv.FormatBool(s.ADASCalibration),
		"approved":         strconv.FormatBool(s.InsuranceApproved),
		"parts":            strconv.FormatBool(s.StocksSpareParts),
		"tier":             string(s.Metrics.PerformanceTier),
		"acceptance_rate":  strconv.FormatFloat(s.Metrics.AcceptanceRate, 'f', -1, 64),
		"response_minutes": strconv.FormatFloat(s.Metrics.ResponseTimeMinutes, 'f', -1, 64),
		"quality":          quality,
		"jobs_offered":     strconv.FormatInt(s.Metrics.JobsOffered, 10),
		"jobs_accepted":    strconv.FormatInt(s.Metrics.JobsAccepted, 10),
		"updated":          time.Now().Format(time.RFC3339),
	}).Err()
}

// All returns every registered shop, ordered by id so repeated calls
// rank identically.
func (r *RedisDirectory) All() []models.Shop {
	ids, err := r.client.SMembers(r.ctx, shopIndexKey).Result()
	if err != nil {
		return nil
	}
	sort.Strings(ids)
	out := make([]models.Shop, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.load(id); ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *RedisDirectory) Nearby(lat, lon float64, limit int) []models.Shop {
	res, err := r.client.GeoRadius(r.ctx, r.geoKey, lon, lat, &redis.GeoRadiusQuery{Radius: 100, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.Shop, 0, len(res))
	for _, g := range res {
		s, ok := r.load(g.Name)
		if !ok {
			s = models.Shop{ID: g.Name}
		}
		s.Loc = &models.Coord{Lat: g.Latitude, Lon: g.Longitude}
		out = append(out, s)
	}
	return out
}

func (r *RedisDirectory) load(id string) (models.Shop, bool) {
	m, err := r.client.HGetAll(r.ctx, metaKey(id)).Result()
	if err != nil || len(m) == 0 {
		return models.Shop{}, false
	}
	s := models.Shop{
		ID:                id,
		Name:              m["name"],
		Address:           m["address"],
		ServiceCapability: models.ServiceCapability(m["capability"]),
		RepairTypes:       models.RepairTypes(m["repair_types"]),
		ADASCalibration:   m["adas"] == "true",
		InsuranceApproved: m["approved"] == "true",
		StocksSpareParts:  m["parts"] == "true",
	}
	s.Metrics.PerformanceTier = models.PerformanceTier(m["tier"])
	if v, ok := m["acceptance_rate"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Metrics.AcceptanceRate = f
		}
	}
	if v, ok := m["response_minutes"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Metrics.ResponseTimeMinutes = f
		}
	}
	if v, ok := m["quality"]; ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.Metrics.QualityScore = &f
		}
	}
	if v, ok := m["jobs_offered"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Metrics.JobsOffered = n
		}
	}
	if v, ok := m["jobs_accepted"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Metrics.JobsAccepted = n
		}
	}
	if pos, err := r.client.GeoPos(r.ctx, r.geoKey, id).Result(); err == nil && len(pos) == 1 && pos[0] != nil {
		s.Loc = &models.Coord{Lat: pos[0].Latitude, Lon: pos[0].Longitude}
	}
	return s, true
}
