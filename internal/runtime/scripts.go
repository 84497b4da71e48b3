// Package runtime holds the browser-side assets the proxy injects or
// serves: the WebRTC-neutralization snippet, the page runtime script, the
// narrower ad-frame variant, and the service worker (spec.md §4.8). These
// are plain JS/text assets embedded as Go string constants, the same
// backtick-literal pattern liuhaotian's ServiceWorkerWebProxy uses for its
// combinedInjectedHTML/clientJSContentForEmbedding.
package runtime

import "strings"

// webRTCNeutralization runs before anything else injected into the page:
// it replaces RTCPeerConnection and friends with inert stand-ins so a
// proxied page cannot leak the browser's real IP over WebRTC (spec.md
// §4.8).
const webRTCNeutralization = `
(function () {
  function BlockedRTCPeerConnection() {
    throw new DOMException('WebRTC is disabled by the proxy', 'NotSupportedError');
  }
  function BlockedSessionDescription() {}
  function BlockedIceCandidate() {}
  ['RTCPeerConnection', 'webkitRTCPeerConnection', 'mozRTCPeerConnection'].forEach(function (name) {
    try { Object.defineProperty(window, name, { value: BlockedRTCPeerConnection, writable: false, configurable: true }); } catch (e) {}
  });
  try { window.RTCSessionDescription = BlockedSessionDescription; } catch (e) {}
  try { window.RTCIceCandidate = BlockedIceCandidate; } catch (e) {}

  if (navigator.mediaDevices) {
    if (navigator.mediaDevices.getUserMedia) {
      navigator.mediaDevices.getUserMedia = function () {
        return Promise.reject(new DOMException('getUserMedia is disabled by the proxy', 'NotAllowedError'));
      };
    }
    if (navigator.mediaDevices.getDisplayMedia) {
      navigator.mediaDevices.getDisplayMedia = function () {
        return Promise.reject(new DOMException('getDisplayMedia is disabled by the proxy', 'NotAllowedError'));
      };
    }
    if (navigator.mediaDevices.enumerateDevices) {
      navigator.mediaDevices.enumerateDevices = function () { return Promise.resolve([]); };
    }
  }

  var NativeWebSocket = window.WebSocket;
  if (NativeWebSocket) {
    window.WebSocket = function (url, protocols) {
      console.warn('[relayproxy] WebSocket to', url, 'observed');
      return protocols === undefined ? new NativeWebSocket(url) : new NativeWebSocket(url, protocols);
    };
    window.WebSocket.prototype = NativeWebSocket.prototype;
    window.WebSocket.CONNECTING = NativeWebSocket.CONNECTING;
    window.WebSocket.OPEN = NativeWebSocket.OPEN;
    window.WebSocket.CLOSING = NativeWebSocket.CLOSING;
    window.WebSocket.CLOSED = NativeWebSocket.CLOSED;
  }
})();
`

// pageRuntimeTemplate is the in-page interception script for "page" mode
// (spec.md §4.8). __RELAY_TRUE_URL__ is substituted with the original
// page URL B at injection time; __RELAY_PROXY_PREFIX__ with the codec's
// canonical prefix.
const pageRuntimeTemplate = `
(function () {
  var TRUE_URL = "__RELAY_TRUE_URL__";
  var PROXY_PREFIX = "__RELAY_PROXY_PREFIX__";

  function b64urlEncode(s) {
    var b64 = btoa(unescape(encodeURIComponent(s)));
    return b64.replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
  }

  function proxify(url) {
    try {
      var abs = new URL(url, TRUE_URL).href;
      return PROXY_PREFIX + b64urlEncode(abs);
    } catch (e) {
      return url;
    }
  }

  try {
    Object.defineProperty(document, 'baseURI', { get: function () { return TRUE_URL; }, configurable: true });
  } catch (e) {}
  try {
    var trueLoc = new URL(TRUE_URL);
    ['href', 'host', 'hostname', 'origin', 'protocol', 'pathname', 'search', 'hash'].forEach(function (prop) {
      try {
        Object.defineProperty(document, 'URL', { get: function () { return TRUE_URL; }, configurable: true });
      } catch (e) {}
    });
  } catch (e) {}

  var nativeFetch = window.fetch;
  if (nativeFetch) {
    window.fetch = function (input, init) {
      var url = typeof input === 'string' ? input : (input && input.url);
      if (url && url.indexOf(PROXY_PREFIX) !== 0 && !/^(data|blob|javascript):/.test(url)) {
        var rewritten = proxify(url);
        if (typeof input === 'string') { input = rewritten; } else if (input) { input = new Request(rewritten, input); }
      }
      return nativeFetch(input, init);
    };
  }

  var XHROpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function (method, url) {
    if (url && url.indexOf(PROXY_PREFIX) !== 0 && !/^(data|blob|javascript):/.test(url)) {
      arguments[1] = proxify(url);
    }
    return XHROpen.apply(this, arguments);
  };

  document.addEventListener('click', function (ev) {
    var a = ev.target.closest ? ev.target.closest('a[href]') : null;
    if (!a) return;
    var href = a.getAttribute('href');
    if (!href || href.indexOf(PROXY_PREFIX) === 0 || /^(#|javascript:|mailto:|tel:|data:|about:)/.test(href)) return;
    var abs;
    try { abs = new URL(href, TRUE_URL).href; } catch (e) { return; }
    ev.preventDefault();
    var proxied = PROXY_PREFIX + b64urlEncode(abs);
    if (a.target === '_blank') {
      window.open(proxied, '_blank');
    } else {
      window.location.href = proxied;
    }
  }, true);
  ['mousedown', 'touchend'].forEach(function (type) {
    document.addEventListener(type, function (ev) {
      var a = ev.target.closest ? ev.target.closest('a[href]') : null;
      if (!a) return;
      var href = a.getAttribute('href');
      if (href && href.indexOf(PROXY_PREFIX) !== 0 && /^\/p\//.test(href) === false) {
        // repaired lazily on click capture above; nothing further needed here.
      }
    }, true);
  });

  if ('serviceWorker' in navigator) {
    navigator.serviceWorker.register('/sw.js', { scope: '/' }).catch(function (err) {
      console.warn('[relayproxy] service worker registration failed', err);
    });
  }
})();
`

// adFrameRuntimeTemplate is the narrower script injected into adFrame-mode
// documents (spec.md §4.11): it captures clicks matching Google Ads
// click-URL shapes and posts them to /api/click-beacon instead of letting
// the iframe navigate itself.
const adFrameRuntimeTemplate = `
(function () {
  var TRUE_URL = "__RELAY_TRUE_URL__";
  var clickURLPattern = /(googleadservices\.com\/.*\/aclk|doubleclick\.net\/.*clk)/i;

  function extractAdURL(href) {
    try {
      var u = new URL(href, TRUE_URL);
      return u.searchParams.get('adurl') || href;
    } catch (e) {
      return href;
    }
  }

  document.addEventListener('click', function (ev) {
    var a = ev.target.closest ? ev.target.closest('a[href]') : null;
    if (!a) return;
    var href = a.getAttribute('href');
    if (!href) return;
    var abs;
    try { abs = new URL(href, TRUE_URL).href; } catch (e) { return; }
    if (!clickURLPattern.test(abs)) return;
    ev.preventDefault();
    fetch('/api/click-beacon', {
      method: 'POST',
      headers: { 'Content-Type': 'application/json' },
      credentials: 'include',
      body: JSON.stringify({
        clickUrl: abs,
        adurl: extractAdURL(abs),
        cookies: document.cookie,
        referrer: TRUE_URL,
        userAgent: navigator.userAgent,
        language: navigator.language
      })
    }).then(function (r) { return r.json(); }).then(function (data) {
      if (data && data.proxyUrl) {
        window.top.location.href = data.proxyUrl;
      }
    }).catch(function (err) { console.warn('[relayproxy] click-beacon failed', err); });
  }, true);

  document.addEventListener('submit', function (ev) {
    var form = ev.target;
    if (!form || !form.action) return;
    var abs;
    try { abs = new URL(form.action, TRUE_URL).href; } catch (e) { return; }
    if (abs.indexOf(location.origin) === 0) return;
    ev.preventDefault();
    window.top.location.href = abs;
  }, true);
})();
`

// ServiceWorkerScript is served verbatim at GET /sw.js and implements the
// request-interception policy of spec.md §4.8: /p/ and /external/ paths are
// pre-encoded and forwarded straight to /api/proxy; same-origin shell paths
// pass through; cross-origin requests are either proxied inline (iframes,
// in-page-originated navigations, subresources) or 302-redirected to /p/
// for top-level navigation, except known ad hosts which stay inline so the
// click-beacon subprotocol (§4.11) keeps the frame. A malformed /p/<token>
// is repaired as a relative path against the last known-good target before
// failing with 400.
const ServiceWorkerScript = `
const CACHE_VERSION = 'relayproxy-v1';
const PROXY_PREFIX = '/p/';
const EXTERNAL_PREFIX = '/external/';
const AD_HOSTS = ['googleadservices.com', 'doubleclick.net', 'googlesyndication.com'];

var lastGoodTarget = null;

self.addEventListener('install', function (event) {
  self.skipWaiting();
});

self.addEventListener('activate', function (event) {
  event.waitUntil(
    caches.keys().then(function (keys) {
      return Promise.all(keys.filter(function (k) { return k !== CACHE_VERSION; }).map(function (k) { return caches.delete(k); }));
    }).then(function () { return self.clients.claim(); })
  );
});

function isAdHost(hostname) {
  hostname = (hostname || '').toLowerCase();
  for (var i = 0; i < AD_HOSTS.length; i++) {
    var h = AD_HOSTS[i];
    if (hostname === h || hostname.slice(-(h.length + 1)) === '.' + h) return true;
  }
  return false;
}

function encodeURLToken(u) {
  var bytes = new TextEncoder().encode(u);
  var bin = '';
  for (var i = 0; i < bytes.length; i++) bin += String.fromCharCode(bytes[i]);
  return btoa(bin).replace(/\+/g, '-').replace(/\//g, '_').replace(/=+$/, '');
}

function decodeToken(token) {
  try {
    var b64 = token.replace(/-/g, '+').replace(/_/g, '/');
    while (b64.length % 4) b64 += '=';
    var bin = atob(b64);
    var bytes = new Uint8Array(bin.length);
    for (var i = 0; i < bin.length; i++) bytes[i] = bin.charCodeAt(i);
    var decoded = new TextDecoder().decode(bytes);
    var parsed = new URL(decoded);
    if (parsed.protocol !== 'http:' && parsed.protocol !== 'https:') return null;
    return decoded;
  } catch (e) {
    return null;
  }
}

function looksLikeToken(token) {
  if (!token || token.length < 10) return false;
  if (!/^[A-Za-z0-9_-]+$/.test(token)) return false;
  if (token.indexOf('.') !== -1 && token.indexOf('_') === -1 && token.length < 20) return false;
  return true;
}

function errorResponse(message) {
  return new Response(JSON.stringify({ error: 'upstream', message: String(message) }), {
    status: 502,
    headers: { 'Content-Type': 'application/json' }
  });
}

function badTokenResponse() {
  return new Response(JSON.stringify({ error: 'client_input', message: 'invalid encoded URL' }), {
    status: 400,
    headers: { 'Content-Type': 'application/json' }
  });
}

// buildProxyRequest forwards method, a whitelist of identity/negotiation
// headers, and credentials. Accept-Encoding is a forbidden header name for
// scripted fetches in most engines, so setting it here is best-effort, not
// load-bearing: the browser still negotiates encoding on its own.
function buildProxyRequest(token, req) {
  var headers = new Headers();
  var ua = req.headers.get('User-Agent');
  if (ua) {
    headers.set('User-Agent', ua);
    headers.set('X-Original-UA', ua);
  }
  ['Accept', 'Accept-Language', 'Accept-Encoding'].forEach(function (name) {
    var v = req.headers.get(name);
    if (v) { try { headers.set(name, v); } catch (e) {} }
  });
  var init = {
    method: req.method,
    headers: headers,
    credentials: 'include',
    redirect: 'follow'
  };
  if (req.method !== 'GET' && req.method !== 'HEAD') {
    init.body = req.body;
    init.duplex = 'half';
  }
  return new Request(self.location.origin + '/api/proxy?url=' + token, init);
}

function proxyInline(targetURL, req) {
  lastGoodTarget = targetURL;
  return fetch(buildProxyRequest(encodeURLToken(targetURL), req)).catch(errorResponse);
}

function handlePreEncoded(rawToken, req) {
  var token = rawToken;
  if (!looksLikeToken(token)) {
    var repaired = null;
    if (lastGoodTarget) {
      try { repaired = new URL(token, lastGoodTarget).href; } catch (e) { repaired = null; }
    }
    if (!repaired) return Promise.resolve(badTokenResponse());
    token = encodeURLToken(repaired);
  }
  var decoded = decodeToken(token);
  if (decoded && req.mode === 'navigate') {
    lastGoodTarget = decoded;
  }
  return fetch(buildProxyRequest(token, req)).catch(errorResponse);
}

self.addEventListener('fetch', function (event) {
  var req = event.request;
  var url = new URL(req.url);

  if (url.pathname.indexOf(PROXY_PREFIX) === 0 || url.pathname.indexOf(EXTERNAL_PREFIX) === 0) {
    var raw = url.pathname.indexOf(PROXY_PREFIX) === 0
      ? url.pathname.slice(PROXY_PREFIX.length)
      : url.pathname.slice(EXTERNAL_PREFIX.length);
    event.respondWith(handlePreEncoded(raw, req));
    return;
  }

  if (url.origin === self.location.origin &&
      (url.pathname === '/' || url.pathname === '/index.html' || url.pathname === '/sw.js' ||
       url.pathname.indexOf('/assets/') === 0 || url.pathname.indexOf('/api/') === 0)) {
    return;
  }

  if (url.origin !== self.location.origin) {
    var dest = req.destination;
    var referrerIsProxied = !!req.referrer && req.referrer.indexOf(self.location.origin) === 0;

    if (dest === 'iframe' ||
        (dest === 'document' && req.mode === 'navigate' && referrerIsProxied) ||
        (dest === '' && req.mode === 'cors')) {
      event.respondWith(proxyInline(url.href, req));
      return;
    }

    if (req.mode === 'navigate') {
      if (isAdHost(url.hostname)) {
        event.respondWith(proxyInline(url.href, req));
      } else {
        event.respondWith(Promise.resolve(Response.redirect(PROXY_PREFIX + encodeURLToken(url.href), 302)));
      }
      return;
    }

    event.respondWith(proxyInline(url.href, req));
    return;
  }

  // Same-origin request that isn't a pre-encoded or shell path: let it
  // through unchanged.
});
`

// WebRTCNeutralizationScript returns the WebRTC-disabling snippet, unparameterized.
func WebRTCNeutralizationScript() string {
	return webRTCNeutralization
}

// PageScript renders the page-mode runtime script with the true page URL
// and the canonical proxy path prefix baked in as string literals.
func PageScript(trueURL, proxyPrefix string) string {
	s := strings.ReplaceAll(pageRuntimeTemplate, "__RELAY_TRUE_URL__", jsEscape(trueURL))
	return strings.ReplaceAll(s, "__RELAY_PROXY_PREFIX__", jsEscape(proxyPrefix))
}

// AdFrameScript renders the narrower ad-frame click-beacon script.
func AdFrameScript(trueURL string) string {
	return strings.ReplaceAll(adFrameRuntimeTemplate, "__RELAY_TRUE_URL__", jsEscape(trueURL))
}

// jsEscape escapes a string for safe embedding inside a double-quoted JS
// string literal within an injected <script> element.
func jsEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "</script>", `<\/script>`)
	return s
}
