package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		ledgerEntriesTotal,
		ledgerVolumeToman,
	)
}

var (
	ledgerEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Applied ledger entries by direction.",
		},
		[]string{"direction"},
	)

	ledgerVolumeToman = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_volume_toman_total",
			Help: "Total Toman moved through the ledger by direction.",
		},
		[]string{"direction"},
	)
)

func AddLedgerEntry(direction string, amountToman int64) {
	ledgerEntriesTotal.WithLabelValues(norm(direction)).Inc()
	ledgerVolumeToman.WithLabelValues(norm(direction)).Add(float64(amountToman))
}
