package testutils

import (
	"context"
	"strconv"

	"github.com/driftlab/cascade"
	"github.com/driftlab/cascade/lineage"
	. "github.com/smartystreets/goconvey/convey"
)

func IntValue(row lineage.Row) int {
	n, err := strconv.Atoi(string(row.Value))
	if err != nil {
		panic(err)
	}
	return n
}

func IntRow(key string, n int) lineage.Row {
	return lineage.Row{Key: key, Value: []byte(strconv.Itoa(n))}
}

// Collect waits for the job and drains its result rows.
func Collect(ctx context.Context, rj *cascade.RunningJob) ([]lineage.Row, error) {
	out, err := rj.Results(ctx)
	if err != nil {
		return nil, err
	}
	var rows []lineage.Row
	for row := range out {
		rows = append(rows, row)
	}
	return rows, rj.Err()
}

// MustCollect is Collect with convey assertions.
func MustCollect(ctx context.Context, rj *cascade.RunningJob) []lineage.Row {
	rows, err := Collect(ctx, rj)
	So(err, ShouldBeNil)
	return rows
}

func GroupByKey(rows []lineage.Row) map[string][]lineage.Row {
	grouped := make(map[string][]lineage.Row)
	for _, row := range rows {
		grouped[row.Key] = append(grouped[row.Key], row)
	}
	return grouped
}
