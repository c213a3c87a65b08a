package origin

import "github.com/bionicotaku/lingo-services-media/internal/infrastructure/conf"

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// builtinProfiles 覆盖已知需要伪装的图床/CDN。配置文件中的档案
// 优先于这里的内置条目。
var builtinProfiles = []conf.HostProfile{
	{
		HostSuffix: "sinaimg.cn",
		Referer:    "https://weibo.com/",
	},
	{
		HostSuffix: "hdslb.com",
		Referer:    "https://www.bilibili.com/",
		Origin:     "https://www.bilibili.com",
	},
	{
		HostSuffix: "tiktokcdn.com",
		Referer:    "https://www.tiktok.com/",
	},
	{
		HostSuffix: "ytimg.com",
		Referer:    "https://www.youtube.com/",
	},
	{
		HostSuffix: "cdninstagram.com",
		Referer:    "https://www.instagram.com/",
	},
}
