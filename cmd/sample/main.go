// Command sample posts one real transmission per supported device to a
// running gps-catcher and prints the replies.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/api/util"
)

const (
	gl200Packet   = "+RESP:GTFRI,02010D,867844001851958,,0,0,1,2,-1,0,180.4,-97.145723,32.742709,20150526021641,,,,,,89,20150526021819,129B$"
	gps306aPacket = "imei:359710049084651,tracker,150828170049,,F,090049.000,A,3244.5761,N,09708.8238,W,0.00,266.92,,0,0,,,;"
	tk1022Packet  = "(027043507615BR00151128A3244.5722N09708.8233W000.00525560.000000000000L00000000)"
	bdgpsPacket   = "*HQ,4106020149,V1#"

	stuDocument = `<?xml version="1.0" encoding="UTF-8"?>
<stuMessages messageID="MSG-12345">
  <stuMessage>
    <esn>0-1234567</esn>
    <unixTime>1432598400</unixTime>
    <payload encoding="hex" length="9">0x002E914EBAEAE84A08</payload>
  </stuMessage>
</stuMessages>`

	spotDocument = `<?xml version="1.0" encoding="UTF-8"?><response><header></header><feedMessageResponse><messages><message>
	<id>399196236</id>
	<esn>0-2554023</esn>
	<esnName>SPOT 1</esnName>
	<messageType>STOP</messageType>
	<timestamp>2015-05-28T19:34:24.000Z</timestamp>
	<timeInGMTSecond>1432841664</timeInGMTSecond>
	<latitude>32.74293</latitude>
	<longitude>-97.14706</longitude>
	<batteryState>GOOD</batteryState>
</message></messages></feedMessageResponse></response>`
)

type sample struct {
	name        string
	path        string
	contentType string
	body        string
}

var samples = []sample{
	{"GL200", "/gl200/msg", "text/plain", gl200Packet},
	{"GL200 SMS", "/gl200/sms", "application/x-www-form-urlencoded", url.Values{"Body": {gl200Packet}}.Encode()},
	{"GPS306A", "/gps306a/msg", "text/plain", gps306aPacket},
	{"GPS306A heartbeat", "/gps306a/msg", "text/plain", "359710049084651"},
	{"Xexun TK1022", "/xexun_tk1022/msg", "text/plain", tk1022Packet},
	{"Smart BDGPS", "/smart_bdgps/msg", "text/plain", bdgpsPacket},
	{"Globalstar STU", "/globalstar/stu", "text/xml", stuDocument},
	{"SPOT Trace", "/spot_trace/msg", "text/xml", spotDocument},
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "gps-catcher base URL")
	secret := flag.String("jwt-secret", os.Getenv("GPSCATCHER_AUTH_JWT_SECRET"), "admin JWT secret, enables the geofence sample")
	webhook := flag.String("webhook", "http://localhost:9000/hook", "webhook URL for the sample geofence")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimSuffix(*baseURL, "/")

	if *secret != "" {
		token, err := util.IssueToken([]byte(*secret), "sample", time.Hour)
		if err != nil {
			logger.WithError(err).Fatal("Failed to sign admin token")
		}
		fence := fmt.Sprintf(`{"esn":"867844001851958","fence":"POLYGON((-97.2 32.7, -97.1 32.7, -97.1 32.8, -97.2 32.8, -97.2 32.7))","alert_type":"b","webhook_url":%q}`, *webhook)
		req, _ := http.NewRequest(http.MethodPost, base+"/v1/geofences", strings.NewReader(fence))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		report(logger, "Create geofence", client, req)
	}

	for _, s := range samples {
		req, _ := http.NewRequest(http.MethodPost, base+s.path, bytes.NewBufferString(s.body))
		req.Header.Set("Content-Type", s.contentType)
		report(logger, s.name, client, req)
		time.Sleep(200 * time.Millisecond)
	}

	decode, _ := http.NewRequest(http.MethodGet, base+"/v1/device/gl200/decode?payload="+url.QueryEscape(gl200Packet), nil)
	report(logger, "Decode GL200", client, decode)

	check, _ := http.NewRequest(http.MethodGet, base+"/geofence/check", nil)
	report(logger, "Geofence check", client, check)
}

func report(logger *logrus.Logger, name string, client *http.Client, req *http.Request) {
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logger.WithError(err).WithField("sample", name).Error("Request failed")
		return
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	logger.WithFields(logrus.Fields{
		"sample":  name,
		"status":  resp.StatusCode,
		"latency": time.Since(start).Round(time.Millisecond),
	}).Info(strings.TrimSpace(string(body)))
}
