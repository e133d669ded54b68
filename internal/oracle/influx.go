package oracle

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxRecorder writes price updates to an InfluxDB bucket as the
// "price_feed" measurement.
type InfluxRecorder struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

// NewInfluxRecorder connects to InfluxDB.
func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{
		client: client,
		writer: client.WriteAPIBlocking(org, bucket),
	}
}

func (r *InfluxRecorder) Record(ctx context.Context, feed Feed) error {
	price, _ := feed.Price.Float64()
	point := influxdb2.NewPoint(
		"price_feed",
		map[string]string{
			"currency": feed.Currency,
			"name":     feed.Name,
		},
		map[string]interface{}{
			"price":     price,
			"price_str": feed.Price.String(),
		},
		feed.UpdatedAt,
	)
	if err := r.writer.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write price point: %w", err)
	}
	return nil
}

// Close releases the client.
func (r *InfluxRecorder) Close() {
	r.client.Close()
}
