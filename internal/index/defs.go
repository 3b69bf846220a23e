package index

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const defaultFileSize = 200 * humanize.KByte

func col(dbName string) Col {
	return Col{Name: camelCase(dbName), DBName: dbName, InIndex: true}
}

func distinctCol(dbName string) Col {
	c := col(dbName)
	c.WriteDistinct = true
	return c
}

func orderBy(cols []Col) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.DBName
	}
	return strings.Join(names, ", ")
}

var (
	periodCols    = []Col{distinctCol("period")}
	byChannelCols = []Col{col("channel_id")}
)

// DefaultRegistry holds every published index.
func DefaultRegistry() *Registry {
	return NewRegistry(
		topVideos(20_000),
		topChannelVideos(50),
		channelStats("channel_stats_by_period", periodCols, 100*humanize.KByte),
		channelStats("channel_stats_by_id", byChannelCols, 50*humanize.KByte),
		videoRemoved(),
		videoRemovedCaption(),
		narrativeChannels(),
		narrativeVideos(),
		usRecs(),
		videoSeen("us_watch", "us_watch", false),
		videoSeen("us_feed", "us_feed", true),
	)
}

func topVideos(topPerPeriod int) Def {
	return Def{Name: "top_videos", Cols: periodCols, SQL: topVideosSQL(topPerPeriod, periodCols), Size: defaultFileSize}
}

func topChannelVideos(topPerChannel int) Def {
	cols := append([]Col{col("channel_id")}, periodCols...)
	return Def{Name: "top_channel_videos", Cols: cols, SQL: topVideosSQL(topPerChannel, cols), Size: 300 * humanize.KByte}
}

func topVideosSQL(rank int, cols []Col) string {
	partition := make([]string, len(cols))
	for i, c := range cols {
		partition[i] = "t." + c.DBName
	}
	return fmt.Sprintf(`
WITH ranked AS (
  SELECT t.video_id
       , v.video_title
       , t.channel_id
       , v.upload_date
       , v.duration_secs
       , t.period
       , t.views AS period_views
       , v.views AS video_views
       , t.watch_hours
       , RANK() OVER (PARTITION BY %[1]s ORDER BY t.views DESC) AS rank
  FROM (SELECT *, period_type || '|' || period_value AS period FROM ttube_top_videos) t
  LEFT JOIN video_latest v ON v.video_id = t.video_id
)
SELECT * FROM ranked
WHERE rank < %[2]d
ORDER BY %[3]s, rank`, strings.Join(partition, ", "), rank, orderBy(cols))
}

func channelStats(name string, cols []Col, size uint64) Def {
	return Def{Name: name, Cols: cols, Size: size, SQL: fmt.Sprintf(`
WITH by_channel AS (
  SELECT t.channel_id
       , t.period_type
       , t.period_value
       , t.period_type || '|' || t.period_value AS period
       , SUM(t.views) AS views
       , SUM(t.watch_hours) AS watch_hours
  FROM ttube_top_videos t
  GROUP BY t.channel_id, t.period_type, t.period_value
)
SELECT t.channel_id, t.period, t.views, t.watch_hours, r.latest_refresh, r.videos
FROM by_channel t
LEFT JOIN ttube_refresh_stats r
  ON r.channel_id = t.channel_id AND r.period_type = t.period_type AND r.period_value = t.period_value
ORDER BY %s`, orderBy(cols))}
}

func videoRemoved() Def {
	errType := distinctCol("error_type")
	errType.InIndex = false
	return Def{
		Name: "video_removed",
		Cols: []Col{col("last_seen"), errType},
		Size: 100 * humanize.KByte,
		SQL: `
SELECT e.*
     , EXISTS (SELECT 1 FROM caption c WHERE c.video_id = e.video_id) AS has_captions
FROM video_error e
WHERE e.platform = 'YouTube'
ORDER BY e.last_seen`,
	}
}

func videoRemovedCaption() Def {
	return Def{
		Name: "video_removed_caption",
		Cols: []Col{col("video_id")},
		Size: 100 * humanize.KByte,
		SQL: `
SELECT e.video_id, c.caption, c.offset_secs
FROM video_error e
JOIN caption c ON c.video_id = e.video_id
WHERE e.platform = 'YouTube'
ORDER BY e.video_id, c.offset_secs`,
	}
}

func narrativeChannels() Def {
	cols := []Col{distinctCol("narrative")}
	return Def{Name: "narrative_channels", Cols: cols, Size: defaultFileSize, SQL: fmt.Sprintf(`
WITH by_channel AS (
  SELECT n.channel_id, n.narrative, SUM(v.views) AS views
  FROM video_narrative n
  LEFT JOIN video_latest v ON v.video_id = n.video_id
  GROUP BY n.narrative, n.channel_id
)
SELECT n.*
     , cl.channel_title
     , ARRAY(SELECT unnest(cl.hard_tags) EXCEPT SELECT unnest(ARRAY['MissingLinkMedia', 'OrganizedReligion', 'Educational'])) AS tags
     , cl.lr
     , cl.logo_url
     , cl.subs
     , LEFT(cl.description, 300) AS description
FROM by_channel n
LEFT JOIN channel_latest cl ON cl.channel_id = n.channel_id
ORDER BY %s`, orderBy(cols))}
}

func narrativeVideos() Def {
	cols := []Col{distinctCol("narrative"), col("upload_date")}
	return Def{Name: "narrative_videos", Cols: cols, Size: defaultFileSize, SQL: fmt.Sprintf(`
WITH s AS (
  SELECT n.narrative
       , n.video_id
       , n.video_title
       , n.channel_id
       , n.support
       , n.supplement
       , v.views AS video_views
       , CASE
           WHEN n.supplement = 'manual' THEN 1
           WHEN n.support = 'support' THEN CASE WHEN v.upload_date < '2020-12-09' THEN 0.84 / 0.96 ELSE 0.68 / 0.97 END
           WHEN n.support = 'dispute' THEN CASE WHEN v.upload_date < '2020-12-09' THEN 0.84 / 0.94 ELSE 0.80 / 0.97 END
           ELSE 1
         END * v.views AS video_views_adjusted
       , v.upload_date::date AS upload_date
       , ve.error_type
       , v.duration_secs
       , n.captions
       , ve.last_seen
  FROM video_narrative n
  LEFT JOIN video_latest v ON v.video_id = n.video_id
  LEFT JOIN video_error ve ON ve.video_id = n.video_id
)
SELECT * FROM s
ORDER BY %s, video_views DESC`, orderBy(cols))}
}

func usRecs() Def {
	cols := []Col{distinctCol("label"), distinctCol("from_channel_id")}
	return Def{Name: "us_recs", Cols: cols, Size: defaultFileSize, SQL: fmt.Sprintf(`
WITH account_days AS (
  SELECT from_video_id, updated::date AS day, account
  FROM us_rec
  GROUP BY 1, 2, 3
  HAVING MAX(rank) > 5
),
video_date_accounts AS (
  SELECT from_video_id, day, COUNT(DISTINCT account) AS accounts_total
  FROM account_days
  GROUP BY 1, 2
  HAVING COUNT(DISTINCT account) >= 12
),
full_account_recs AS (
  SELECT r.account
       , r.updated::date AS day
       , m.label
       , r.from_video_id
       , r.to_video_id
       , r.from_channel_id
       , r.from_channel_title
       , r.from_video_title
       , r.to_video_title
       , r.to_channel_id
       , r.to_channel_title
  FROM us_rec r
  LEFT JOIN us_test_manual m ON m.video_id = r.from_video_id
  JOIN video_date_accounts d ON d.from_video_id = r.from_video_id AND d.day = r.updated::date
  WHERE r.account <> 'Black'
)
SELECT from_video_id
     , to_video_id
     , day
     , label
     , ARRAY_AGG(DISTINCT account) AS accounts
     , MIN(from_channel_id) AS from_channel_id
     , MIN(from_video_title) AS from_video_title
     , MIN(to_video_title) AS to_video_title
     , MIN(to_channel_id) AS to_channel_id
     , MIN(to_channel_title) AS to_channel_title
FROM full_account_recs
GROUP BY from_video_id, to_video_id, day, label
ORDER BY %s`, orderBy(cols))}
}

func videoSeen(name, table string, titleInSeen bool) Def {
	cols := []Col{col("part"), distinctCol("account")}
	title := "vl.video_title"
	if titleInSeen {
		title = "w.video_title"
	}
	return Def{Name: name, Cols: cols, Size: 100 * humanize.KByte, SQL: fmt.Sprintf(`
WITH s1 AS (
  SELECT w.account
       , w.video_id
       , MIN(%[1]s) AS video_title
       , MIN(vl.channel_id) AS channel_id
       , MIN(vl.channel_title) AS channel_title
       , MIN(w.updated) AS first_seen
       , MAX(w.updated) AS last_seen
       , COUNT(*) AS seen_total
  FROM %[2]s w
  LEFT JOIN video_latest vl ON vl.video_id = w.video_id
  WHERE w.account <> 'Black'
  GROUP BY w.account, w.video_id
)
SELECT *
     , CASE WHEN ROW_NUMBER() OVER (PARTITION BY account ORDER BY seen_total DESC) < 100 THEN 'featured' END AS part
     , PERCENT_RANK() OVER (PARTITION BY account ORDER BY seen_total) AS percentile
FROM s1
ORDER BY %[3]s, percentile DESC`, title, table, orderBy(cols))}
}
