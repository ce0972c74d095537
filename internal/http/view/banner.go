package view

import (
	"bytes"
	"html/template"
	"time"
)

// BannerData provides the dynamic fields of the countdown banner.
type BannerData struct {
	Domain    string
	Address   string
	ExpiresAt time.Time
}

// ExpiresAtRFC3339 renders the expiry for the browser-side countdown.
func (d BannerData) ExpiresAtRFC3339() string {
	return d.ExpiresAt.UTC().Format(time.RFC3339)
}

var bannerTmpl = template.Must(template.New("banner").Parse(`<style>
.templink-bar{position:fixed;top:10px;left:10px;z-index:2147483647;background:#f0f0f0;padding:8px 12px;border:1px solid #ccc;border-radius:6px;font:14px Arial,sans-serif;color:#333;box-shadow:0 2px 5px rgba(0,0,0,.1)}
.templink-bar a,.templink-bar .templink-ip{color:MediumSeaGreen}
.templink-countdown{font-weight:bold;color:#e74c3c}
</style>
<div class="templink-bar" id="templink-bar">This link expires in <span id="templink-countdown" class="templink-countdown">Loading...</span><br>
You're accessing: <a href="https://{{.Domain}}" target="_blank" rel="noopener">https://{{.Domain}}</a><br>
On the IP: <span class="templink-ip">{{.Address}}</span></div>
<script>
(function(){
var end=new Date("{{.ExpiresAtRFC3339}}").getTime();
var el=document.getElementById("templink-countdown");
var timer=setInterval(function(){
var left=end-Date.now();
if(left<0){clearInterval(timer);el.innerHTML="EXPIRED";location.reload();return;}
var d=Math.floor(left/86400000),h=Math.floor(left%86400000/3600000),m=Math.floor(left%3600000/60000),s=Math.floor(left%60000/1000);
el.innerHTML=d+"d "+h+"h "+m+"m "+s+"s";
},1000);
})();
</script>`))

// RenderBanner renders the countdown banner injected into proxied HTML pages.
func RenderBanner(data BannerData) ([]byte, error) {
	var buf bytes.Buffer
	if err := bannerTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
