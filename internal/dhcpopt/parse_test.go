package dhcpopt_test

import (
	"net/netip"
	"testing"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
)

func TestParseOption(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		in         string
		wantErrMsg string
		want       dhcpopt.Option
		format     dhcpopt.Format
	}{{
		name:       "v4_ips",
		in:         "6 ips 192.168.1.1,192.168.1.2",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code: 6,
			Value: dhcpopt.IPv4List{
				netip.MustParseAddr("192.168.1.1"),
				netip.MustParseAddr("192.168.1.2"),
			},
		},
		format: dhcpopt.FormatV4,
	}, {
		name:       "v6_ip",
		in:         "23 ip 2001:db8::53",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code:  23,
			Value: dhcpopt.IPv6List{netip.MustParseAddr("2001:db8::53")},
		},
		format: dhcpopt.FormatV6,
	}, {
		name:       "text",
		in:         "252 text http://192.168.1.1/wpad.dat",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code:  252,
			Value: dhcpopt.String("http://192.168.1.1/wpad.dat"),
		},
		format: dhcpopt.FormatV4,
	}, {
		name:       "hex",
		in:         "224 hex 0102",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code:  224,
			Value: dhcpopt.Bytes{1, 2},
		},
		format: dhcpopt.FormatV4,
	}, {
		name:       "domains",
		in:         "24 domains example.com.,example.org",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code:  24,
			Value: dhcpopt.DomainList{"example.com.", "example.org"},
		},
		format: dhcpopt.FormatV6,
	}, {
		name:       "u16",
		in:         "7 u16 255",
		wantErrMsg: "",
		want: dhcpopt.Option{
			Code:  7,
			Value: dhcpopt.Uint16(255),
		},
		format: dhcpopt.FormatV6,
	}, {
		name:       "bad_fields",
		in:         "6 ips",
		wantErrMsg: `invalid option string "6 ips": need at least three fields`,
		want:       dhcpopt.Option{},
		format:     dhcpopt.FormatV4,
	}, {
		name: "bad_code",
		in:   "300 text x",
		wantErrMsg: `invalid option string "300 text x": parsing option code: ` +
			`strconv.ParseUint: parsing "300": value out of range`,
		want:   dhcpopt.Option{},
		format: dhcpopt.FormatV4,
	}, {
		name:       "bad_type",
		in:         "6 bool true",
		wantErrMsg: `invalid option string "6 bool true": unknown option type "bool"`,
		want:       dhcpopt.Option{},
		format:     dhcpopt.FormatV4,
	}, {
		name: "wrong_family",
		in:   "6 ip 2001:db8::1",
		wantErrMsg: `invalid option string "6 ip 2001:db8::1": ip at index 0: ` +
			`address 2001:db8::1 has wrong family`,
		want:   dhcpopt.Option{},
		format: dhcpopt.FormatV4,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			opt, err := dhcpopt.ParseOption(tc.format, tc.in)
			testutil.AssertErrorMsg(t, tc.wantErrMsg, err)
			assert.Equal(t, tc.want, opt)
		})
	}
}
