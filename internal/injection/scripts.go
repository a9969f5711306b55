package injection

import (
	"encoding/json"
	"fmt"
)

// Every builder returns a self-contained IIFE. Values are embedded through
// JSON encoding only, never string concatenation.

// jsonString returns a JSON-encoded string literal for safe JS embedding.
func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// jsonValue returns v as a JS literal, or "{}" if it cannot be encoded.
func jsonValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// StorageKind selects localStorage or sessionStorage.
type StorageKind string

const (
	LocalStorage   StorageKind = "localStorage"
	SessionStorage StorageKind = "sessionStorage"
)

// StorageResult is what a storage write script evaluates to.
type StorageResult struct {
	Set    int `json:"set"`
	Failed int `json:"failed"`
}

func storageScript(kind StorageKind, items map[string]any) string {
	return fmt.Sprintf(`(function(){
var data=%s,set=0,failed=0;
for(var k in data){
  try{var v=data[k];window.%s.setItem(k,typeof v==="string"?v:JSON.stringify(v));set++}catch(e){failed++}
}
return {set:set,failed:failed};
})();`, jsonValue(items), kind)
}

// LocalStorageScript writes items into the page's localStorage.
func LocalStorageScript(items map[string]any) string {
	return storageScript(LocalStorage, items)
}

// SessionStorageScript writes items into the page's sessionStorage.
func SessionStorageScript(items map[string]any) string {
	return storageScript(SessionStorage, items)
}

// SnapshotStorageScript evaluates to the JSON text of the page's storage.
func SnapshotStorageScript(kind StorageKind) string {
	return fmt.Sprintf(`(function(){try{return JSON.stringify(window.%s)}catch(e){return "{}"}})();`, kind)
}

// CreditInfoScript publishes the tool's credit on window._muatool_credit and
// fires muatool-credit-updated.
func CreditInfoScript(tool string, credit float64) string {
	return fmt.Sprintf(`(function(){
try{
var credit=%s,tool=%s;
if(typeof window.updateCreditDisplay==="function"){window.updateCreditDisplay(credit)}
window._muatool_credit=window._muatool_credit||{};
window._muatool_credit.current=credit;
window._muatool_credit.tool=tool;
window._muatool_credit.lastUpdate=Date.now();
window.dispatchEvent(new CustomEvent("muatool-credit-updated",{detail:{credit:credit,tool:tool}}));
}catch(e){}
})();`, jsonValue(credit), jsonString(tool))
}

// AlertScript shows a blocking alert in the page.
func AlertScript(msg string) string {
	return fmt.Sprintf(`(function(){try{alert(%s)}catch(e){}})();`, jsonString(msg))
}

// NotifyScript shows a toast through the page's muatoolNotify helper when the
// injected bundle provides one.
func NotifyScript(msg, level string, ms int) string {
	return fmt.Sprintf(`(function(){if(typeof window.muatoolNotify==="function"){window.muatoolNotify(%s,%s,%d)}})();`,
		jsonString(msg), jsonString(level), ms)
}

// SingleTabScript replaces window.open so the page cannot spawn tabs and
// shows msg on every attempt.
func SingleTabScript(msg string) string {
	return fmt.Sprintf(`(function(){
var msg=%s;
window.open=function(){try{alert(msg)}catch(e){}return null};
document.addEventListener("click",function(ev){
  var a=ev.target&&ev.target.closest?ev.target.closest("a[target=_blank]"):null;
  if(a){ev.preventDefault();try{alert(msg)}catch(e){}}
},true);
})();`, jsonString(msg))
}
